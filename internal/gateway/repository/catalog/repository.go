package catalog

import (
	"context"
	"strings"
	"time"

	"dardanelles/internal/apperr"
	"dardanelles/internal/digest"
)

// Entry is one stored archive. SHA256 is unique across the catalog.
type Entry struct {
	Filename   string    `json:"filename"`
	Database   string    `json:"database"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at,omitzero"`
	Downloads  int64     `json:"downloads"`
}

// Store defines operations for persisting catalog entries.
type Store interface {
	// Migrate creates tables and indexes. It is called once at startup.
	Migrate(ctx context.Context) error
	// Insert adds e, failing with ErrAlreadyExists when its hash is taken.
	Insert(ctx context.Context, e Entry) error
	Get(ctx context.Context, sha256 string) (Entry, error)
	// List returns every entry, oldest first.
	List(ctx context.Context) ([]Entry, error)
	// RecordDownload bumps the download counter and access time.
	RecordDownload(ctx context.Context, sha256 string, at time.Time) error
	Close() error
}

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "not_found", "no archive with this hash")
	ErrAlreadyExists = apperr.New(apperr.KindConflict, "already_exists", "an archive with this hash already exists")
	ErrInvalidEntry  = apperr.New(apperr.KindInputValidation, "invalid_entry", "invalid catalog entry")
)

func validate(e Entry) (Entry, error) {
	e.Filename = strings.TrimSpace(e.Filename)
	e.Database = strings.TrimSpace(e.Database)
	if e.Filename == "" {
		return e, ErrInvalidEntry.With("filename", "")
	}
	if e.Database == "" {
		return e, ErrInvalidEntry.With("database", "")
	}
	hash, err := digest.Normalize(e.SHA256)
	if err != nil {
		return e, ErrInvalidEntry.With("sha256", e.SHA256).Wrap(err)
	}
	e.SHA256 = hash
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if !e.AccessedAt.IsZero() {
		e.AccessedAt = e.AccessedAt.UTC()
	}
	return e, nil
}

// lookupKey normalises a hash for lookups; malformed input never matches.
func lookupKey(sha256 string) (string, error) {
	hash, err := digest.Normalize(sha256)
	if err != nil {
		return "", ErrNotFound.With("sha256", sha256)
	}
	return hash, nil
}
