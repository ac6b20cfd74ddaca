package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(c byte) string { return strings.Repeat(string(c), 64) }

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty at startup", func(t *testing.T) {
		s := newStore(t)
		entries, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, Entry{Filename: "abc.ExampleDB.zip", Database: "ExampleDB", SHA256: strings.ToUpper(hashOf('a')), CreatedAt: base}))

		got, err := s.Get(ctx, hashOf('a'))
		require.NoError(t, err)
		assert.Equal(t, "abc.ExampleDB.zip", got.Filename)
		assert.Equal(t, "ExampleDB", got.Database)
		assert.Equal(t, hashOf('a'), got.SHA256)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.True(t, got.AccessedAt.IsZero())
		assert.Zero(t, got.Downloads)
	})

	t.Run("duplicate hash", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, Entry{Filename: "one.zip", Database: "db", SHA256: hashOf('b')}))
		err := s.Insert(ctx, Entry{Filename: "two.zip", Database: "db", SHA256: hashOf('b')})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		entries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "one.zip", entries[0].Filename)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, hashOf('c'))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "not-a-hash")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.RecordDownload(ctx, hashOf('c'), base), ErrNotFound)
	})

	t.Run("invalid entry", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Insert(ctx, Entry{Database: "db", SHA256: hashOf('d')}), ErrInvalidEntry)
		assert.ErrorIs(t, s.Insert(ctx, Entry{Filename: "f.zip", SHA256: hashOf('d')}), ErrInvalidEntry)
		assert.ErrorIs(t, s.Insert(ctx, Entry{Filename: "f.zip", Database: "db", SHA256: "abc"}), ErrInvalidEntry)
	})

	t.Run("list is oldest first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, Entry{Filename: "late.zip", Database: "db", SHA256: hashOf('e'), CreatedAt: base.Add(time.Hour)}))
		require.NoError(t, s.Insert(ctx, Entry{Filename: "early.zip", Database: "db", SHA256: hashOf('f'), CreatedAt: base}))

		entries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "early.zip", entries[0].Filename)
		assert.Equal(t, "late.zip", entries[1].Filename)
	})

	t.Run("record download", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, Entry{Filename: "f.zip", Database: "db", SHA256: hashOf('1'), CreatedAt: base}))
		require.NoError(t, s.RecordDownload(ctx, hashOf('1'), base.Add(time.Minute)))
		require.NoError(t, s.RecordDownload(ctx, hashOf('1'), base.Add(2*time.Minute)))

		got, err := s.Get(ctx, hashOf('1'))
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Downloads)
		assert.True(t, base.Add(2*time.Minute).Equal(got.AccessedAt))
	})

	t.Run("concurrent identical inserts", func(t *testing.T) {
		s := newStore(t)
		var (
			wg      sync.WaitGroup
			ok      atomic.Int32
			dupes   atomic.Int32
			workers = 8
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Insert(ctx, Entry{Filename: "race.zip", Database: "db", SHA256: hashOf('2')})
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, ErrAlreadyExists):
					dupes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(workers-1), dupes.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db"), PoolSize: 4})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, Entry{Filename: "f.zip", Database: "db", SHA256: hashOf('9')}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, hashOf('9'))
	require.NoError(t, err)
	assert.Equal(t, "f.zip", got.Filename)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_CATALOG_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_CATALOG_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.drv.Exec(ctx, "TRUNCATE catalog_entries", []any{}, nil))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
