// Package transfer implements the content-addressed exchange of datapackage
// archives: listing the catalog, accepting uploads and serving downloads.
//
// An archive is identified by the SHA-256 of its bytes. An upload is accepted
// only if the declared hash matches the received bytes, no archive with that
// hash is stored yet, and the bytes decode as a datapackage with at least one
// node.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"dardanelles/internal/apperr"
	"dardanelles/internal/datapackage"
	"dardanelles/internal/digest"
	"dardanelles/internal/gateway/repository/archive"
	"dardanelles/internal/gateway/repository/catalog"
)

// DefaultMaxUploadBytes caps a single upload at 250 MiB.
const DefaultMaxUploadBytes int64 = 250 << 20

var (
	ErrMissingField   = apperr.New(apperr.KindInputValidation, "missing_field", "missing required field")
	ErrTooLarge       = apperr.New(apperr.KindInputValidation, "too_large", "upload exceeds the size limit")
	ErrHashMismatch   = apperr.New(apperr.KindIntegrityViolation, "hash_mismatch", "can't reproduce provided hash value")
	ErrInvalidPackage = apperr.New(apperr.KindStructuralFormat, "invalid_package", "upload is not a valid datapackage")
	ErrAlreadyExists  = catalog.ErrAlreadyExists
	ErrNotFound       = catalog.ErrNotFound
)

// State is where a hash stands in the upload lifecycle.
type State int

const (
	StateAbsent State = iota
	StateUploading
	StateStored
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StateStored:
		return "stored"
	case StateRejected:
		return "rejected"
	default:
		return "absent"
	}
}

type Options struct {
	// TempDir receives spool files; os.TempDir when empty.
	TempDir string
	// MaxUploadBytes defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64
	Logger         *slog.Logger
	Feed           *Feed
	Now            func() time.Time
}

type UploadRequest struct {
	Filename string
	Database string
	SHA256   string
	Body     io.Reader
}

// Receipt acknowledges a stored upload.
type Receipt struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Database string `json:"database"`
	Size     int64  `json:"size"`
}

// Download is an open archive. The caller closes Body.
type Download struct {
	Entry catalog.Entry
	Body  io.ReadCloser
	Size  int64
}

type Service struct {
	catalog  catalog.Store
	archives archive.Store
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]int
	rejected *lru.Cache[string, string]
}

func New(catalogStore catalog.Store, archives archive.Store, opts Options) *Service {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rejected, _ := lru.New[string, string](256)
	return &Service{
		catalog:  catalogStore,
		archives: archives,
		opts:     opts,
		logger:   logger.With("component", "transfer"),
		inflight: make(map[string]int),
		rejected: rejected,
	}
}

// Catalog lists every stored archive, oldest first.
func (s *Service) Catalog(ctx context.Context) ([]catalog.Entry, error) {
	entries, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return entries, nil
}

// Lookup returns the catalog entry for an exact hash.
func (s *Service) Lookup(ctx context.Context, sha256 string) (catalog.Entry, error) {
	return s.catalog.Get(ctx, sha256)
}

// Status reports the lifecycle state of hash.
func (s *Service) Status(ctx context.Context, sha256 string) (State, error) {
	hash, err := digest.Normalize(sha256)
	if err != nil {
		return StateAbsent, nil
	}
	s.mu.Lock()
	uploading := s.inflight[hash]
	s.mu.Unlock()
	if uploading > 0 {
		return StateUploading, nil
	}
	if _, err := s.catalog.Get(ctx, hash); err == nil {
		return StateStored, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return StateAbsent, err
	}
	if _, ok := s.rejected.Get(hash); ok {
		return StateRejected, nil
	}
	return StateAbsent, nil
}

// Upload stores the archive in req.Body. Checks run in a fixed order: required
// fields, size, hash, uniqueness, then package validity. The spool file is
// removed on every path.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (Receipt, error) {
	filename := datapackage.SafeFilename(req.Filename)
	database := strings.TrimSpace(req.Database)
	declared := strings.ToLower(strings.TrimSpace(req.SHA256))
	switch {
	case declared == "":
		return Receipt{}, ErrMissingField.With("sha256", "")
	case database == "":
		return Receipt{}, ErrMissingField.With("database", "")
	case filename == "":
		return Receipt{}, ErrMissingField.With("filename", req.Filename)
	case req.Body == nil:
		return Receipt{}, ErrMissingField.With("file", "")
	}

	s.transition(declared, StateUploading, "database", database, "filename", filename)
	receipt, err := s.upload(ctx, filename, database, declared, req.Body)
	s.mu.Lock()
	if s.inflight[declared]--; s.inflight[declared] <= 0 {
		delete(s.inflight, declared)
	}
	s.mu.Unlock()
	if err != nil {
		s.reject(declared, err)
		return Receipt{}, err
	}
	s.transition(receipt.SHA256, StateStored, "stored_as", receipt.Filename, "bytes", receipt.Size)
	return receipt, nil
}

func (s *Service) upload(ctx context.Context, filename, database, declared string, body io.Reader) (Receipt, error) {
	spool, err := os.CreateTemp(s.opts.TempDir, "upload-*.zip")
	if err != nil {
		return Receipt{}, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	dw := digest.NewWriter(spool)
	n, err := io.Copy(dw, io.LimitReader(body, s.opts.MaxUploadBytes+1))
	if err != nil {
		return Receipt{}, fmt.Errorf("receive upload: %w", err)
	}
	if n > s.opts.MaxUploadBytes {
		return Receipt{}, ErrTooLarge.Withf("limit is %d bytes", s.opts.MaxUploadBytes)
	}
	actual := dw.Sum()
	if !digest.Equal(actual, declared) {
		return Receipt{}, ErrHashMismatch.With("sha256", declared)
	}

	if _, err := s.catalog.Get(ctx, actual); err == nil {
		return Receipt{}, ErrAlreadyExists.With("sha256", actual)
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return Receipt{}, fmt.Errorf("check catalog: %w", err)
	}

	pkg, err := datapackage.Read(spool, n)
	if err != nil {
		return Receipt{}, ErrInvalidPackage.Wrap(err)
	}
	if pkg.Nodes.Len() == 0 {
		return Receipt{}, ErrInvalidPackage.Withf("package has no nodes")
	}

	stored := strings.ReplaceAll(uuid.NewString(), "-", "") + "." + filename
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Receipt{}, fmt.Errorf("rewind spool file: %w", err)
	}
	if err := s.archives.Put(ctx, stored, spool, n); err != nil {
		return Receipt{}, fmt.Errorf("store archive: %w", err)
	}

	entry := catalog.Entry{
		Filename:  stored,
		Database:  database,
		SHA256:    actual,
		CreatedAt: s.opts.Now(),
	}
	if err := s.catalog.Insert(ctx, entry); err != nil {
		// Lost a race against an identical upload, or the insert failed
		// outright; either way the blob must not outlive its entry.
		if delErr := s.archives.Delete(ctx, stored); delErr != nil {
			s.logger.Warn("orphaned archive blob", "name", stored, "error", delErr)
		}
		if errors.Is(err, catalog.ErrAlreadyExists) {
			return Receipt{}, err
		}
		return Receipt{}, fmt.Errorf("record catalog entry: %w", err)
	}
	s.opts.Feed.Publish(Event{Type: EventStored, Entry: entry, At: entry.CreatedAt})
	return Receipt{Filename: stored, SHA256: actual, Database: database, Size: n}, nil
}

// Download opens the archive stored under an exact hash and records the
// access.
func (s *Service) Download(ctx context.Context, sha256 string) (*Download, error) {
	entry, err := s.catalog.Get(ctx, sha256)
	if err != nil {
		return nil, err
	}
	body, size, err := s.archives.Open(ctx, entry.Filename)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			s.logger.Error("catalog entry without blob", "sha256", entry.SHA256, "name", entry.Filename)
			return nil, ErrNotFound.With("sha256", entry.SHA256)
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}

	now := s.opts.Now()
	if err := s.catalog.RecordDownload(ctx, entry.SHA256, now); err != nil {
		s.logger.Warn("record download failed", "sha256", entry.SHA256, "error", err)
	} else {
		entry.Downloads++
		entry.AccessedAt = now.UTC()
	}
	s.opts.Feed.Publish(Event{Type: EventDownloaded, Entry: entry, At: now})
	return &Download{Entry: entry, Body: body, Size: size}, nil
}

func (s *Service) transition(hash string, to State, attrs ...any) {
	if to == StateUploading {
		s.mu.Lock()
		s.inflight[hash]++
		s.mu.Unlock()
		s.rejected.Remove(hash)
	}
	s.logger.Info("upload "+to.String(), append([]any{"sha256", hash}, attrs...)...)
}

func (s *Service) reject(hash string, err error) {
	s.rejected.Add(hash, apperr.CodeOf(err))
	s.logger.Info("upload "+StateRejected.String(), "sha256", hash, "code", apperr.CodeOf(err), "error", err)
}
