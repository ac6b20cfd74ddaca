package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteConfig holds the parameters for opening the SQLite catalog.
type SQLiteConfig struct {
	// Path of the database file. The parent directory must exist.
	Path string
	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int
	Logger   *slog.Logger
}

// SQLiteStore keeps the catalog in a single SQLite file through a pool of
// WAL-mode connections.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger

	schemaOnce sync.Once
	schemaErr  error
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
    sha256      TEXT PRIMARY KEY,
    filename    TEXT NOT NULL,
    database_name TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    accessed_at INTEGER,
    downloads   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_created ON catalog_entries(created_at);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range sqlitePragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog %s: %w", path, err)
	}
	logger.Info("sqlite catalog opened", "path", path, "pool_size", poolSize)
	return &SQLiteStore{pool: pool, path: path, logger: logger}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is nil")
	}
	s.schemaOnce.Do(func() {
		conn, err := s.pool.Take(ctx)
		if err != nil {
			s.schemaErr = err
			return
		}
		defer s.pool.Put(conn)
		for _, stmt := range strings.Split(sqliteSchema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if err := sqlitex.ExecuteTransient(conn, stmt, nil); err != nil {
				s.schemaErr = fmt.Errorf("migrate catalog: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

func (s *SQLiteStore) Insert(ctx context.Context, e Entry) error {
	e, err := validate(e)
	if err != nil {
		return err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
INSERT INTO catalog_entries (sha256, filename, database_name, created_at, accessed_at, downloads)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (sha256) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{e.SHA256, e.Filename, e.Database, e.CreatedAt.UnixNano(), nullableNanos(e.AccessedAt), e.Downloads},
	})
	if err != nil {
		return fmt.Errorf("insert catalog entry: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrAlreadyExists.With("sha256", e.SHA256)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sha256 string) (Entry, error) {
	hash, err := lookupKey(sha256)
	if err != nil {
		return Entry{}, err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer s.pool.Put(conn)

	var (
		out   Entry
		found bool
	)
	err = sqlitex.Execute(conn, `
SELECT sha256, filename, database_name, created_at, accessed_at, downloads
FROM catalog_entries WHERE sha256 = ?`, &sqlitex.ExecOptions{
		Args: []any{hash},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = scanSQLiteEntry(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	if !found {
		return Entry{}, ErrNotFound.With("sha256", hash)
	}
	return out, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	out := make([]Entry, 0, 32)
	err = sqlitex.Execute(conn, `
SELECT sha256, filename, database_name, created_at, accessed_at, downloads
FROM catalog_entries ORDER BY created_at, sha256`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanSQLiteEntry(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) RecordDownload(ctx context.Context, sha256 string, at time.Time) error {
	hash, err := lookupKey(sha256)
	if err != nil {
		return err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE catalog_entries SET accessed_at = ?, downloads = downloads + 1 WHERE sha256 = ?`,
		&sqlitex.ExecOptions{Args: []any{at.UTC().UnixNano(), hash}})
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound.With("sha256", hash)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("close sqlite catalog %s: %w", s.path, err)
	}
	s.logger.Info("sqlite catalog closed", "path", s.path)
	return nil
}

func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take sqlite connection: %w", err)
	}
	return conn, nil
}

func scanSQLiteEntry(stmt *sqlite.Stmt) Entry {
	e := Entry{
		SHA256:    stmt.ColumnText(0),
		Filename:  stmt.ColumnText(1),
		Database:  stmt.ColumnText(2),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		Downloads: stmt.ColumnInt64(5),
	}
	if accessed := stmt.ColumnInt64(4); accessed != 0 {
		e.AccessedAt = time.Unix(0, accessed).UTC()
	}
	return e
}

func nullableNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().UnixNano()
}
