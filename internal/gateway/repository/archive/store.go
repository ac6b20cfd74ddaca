package archive

import (
	"context"
	"io"
	"strings"

	"dardanelles/internal/apperr"
)

// Store persists uploaded archives as opaque blobs addressed by their stored
// name.
type Store interface {
	// Migrate prepares the backing directory or bucket.
	Migrate(ctx context.Context) error
	// Put stores exactly size bytes from r under name.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Open returns the blob and its size. The caller closes the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, name string) error
}

var (
	ErrNotFound    = apperr.New(apperr.KindNotFound, "blob_not_found", "archive blob not found")
	ErrInvalidName = apperr.New(apperr.KindInputValidation, "invalid_blob_name", "invalid archive blob name")
)

// checkName accepts flat names only: no separators, no dot segments.
func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == ".", name == "..":
		return "", ErrInvalidName.With("name", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return "", ErrInvalidName.With("name", name)
	case strings.HasPrefix(name, "."):
		return "", ErrInvalidName.With("name", name)
	}
	return name, nil
}
