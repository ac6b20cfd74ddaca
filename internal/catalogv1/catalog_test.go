package catalogv1

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dardanelles/internal/gateway/repository/catalog"
)

func TestEntryStructConversion(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	in := catalog.Entry{
		Filename:  "abc.ExampleDB.zip",
		Database:  "ExampleDB",
		SHA256:    strings.Repeat("a", 64),
		CreatedAt: created,
		Downloads: 3,
	}
	s, err := EntryToStruct(in)
	require.NoError(t, err)
	_, hasAccessed := s.GetFields()["accessed_at"]
	assert.False(t, hasAccessed)

	out, err := EntryFromStruct(s)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	out.CreatedAt = in.CreatedAt
	assert.Equal(t, in, out)

	in.AccessedAt = created.Add(time.Hour)
	s, err = EntryToStruct(in)
	require.NoError(t, err)
	out, err = EntryFromStruct(s)
	require.NoError(t, err)
	assert.True(t, in.AccessedAt.Equal(out.AccessedAt))
}

func TestEntryFromStructErrors(t *testing.T) {
	_, err := EntryFromStruct(nil)
	assert.Error(t, err)
}
