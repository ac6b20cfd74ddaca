package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const catalogTable = "catalog_entries"

var catalogColumns = []string{"sha256", "filename", "database_name", "created_at", "accessed_at", "downloads"}

type PostgresStore struct {
	drv        *entsql.Driver
	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgres connects to dsn through the pgx driver.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{drv: entsql.OpenDB(dialect.Postgres, db)}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.drv == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		s.schemaErr = s.drv.Exec(ctx, `
CREATE TABLE IF NOT EXISTS catalog_entries (
    sha256 TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    database_name TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    accessed_at TIMESTAMP WITH TIME ZONE,
    downloads BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_created ON catalog_entries(created_at);
`, []any{}, nil)
	})
	return s.schemaErr
}

func (s *PostgresStore) Insert(ctx context.Context, e Entry) error {
	e, err := validate(e)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	var accessed any
	if !e.AccessedAt.IsZero() {
		accessed = e.AccessedAt
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Insert(catalogTable).
		Columns(catalogColumns...).
		Values(e.SHA256, e.Filename, e.Database, e.CreatedAt, accessed, e.Downloads).
		OnConflict(entsql.ConflictColumns("sha256"), entsql.DoNothing()).
		Query()

	var res entsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("insert catalog entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists.With("sha256", e.SHA256)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sha256 string) (Entry, error) {
	hash, err := lookupKey(sha256)
	if err != nil {
		return Entry{}, err
	}
	entries, err := s.query(ctx, func(sel *entsql.Selector) {
		sel.Where(entsql.EQ("sha256", hash)).Limit(1)
	})
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound.With("sha256", hash)
	}
	return entries[0], nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, func(sel *entsql.Selector) {
		sel.OrderBy(entsql.Asc("created_at"), entsql.Asc("sha256"))
	})
}

func (s *PostgresStore) RecordDownload(ctx context.Context, sha256 string, at time.Time) error {
	hash, err := lookupKey(sha256)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Update(catalogTable).
		Set("accessed_at", at.UTC()).
		Add("downloads", 1).
		Where(entsql.EQ("sha256", hash)).
		Query()

	var res entsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound.With("sha256", hash)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.drv == nil {
		return nil
	}
	return s.drv.Close()
}

func (s *PostgresStore) query(ctx context.Context, shape func(*entsql.Selector)) ([]Entry, error) {
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	sel := entsql.Dialect(dialect.Postgres).
		Select(catalogColumns...).
		From(entsql.Table(catalogTable))
	shape(sel)
	query, args := sel.Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 32)
	for rows.Next() {
		var (
			e        Entry
			accessed entsql.NullTime
		)
		if err := rows.Scan(&e.SHA256, &e.Filename, &e.Database, &e.CreatedAt, &accessed, &e.Downloads); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if accessed.Valid {
			e.AccessedAt = accessed.Time.UTC()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
