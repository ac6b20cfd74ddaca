package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	catalogcache "dardanelles/internal/cache/catalog"
	"dardanelles/internal/gateway/config"
	"dardanelles/internal/gateway/repository/archive"
	"dardanelles/internal/gateway/repository/catalog"
)

type gatewayStores struct {
	catalog  *catalogcache.CachedStore
	archives archive.Store
	closers  []io.Closer
}

func (s *gatewayStores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// initStores opens the catalog and the archive store and migrates both.
func initStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gatewayStores, error) {
	stores := &gatewayStores{}

	origin, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	cacheCfg := catalogcache.DefaultCacheConfig()
	if cfg.Catalog.CacheSize > 0 {
		cacheCfg.EntryMaxEntries = cfg.Catalog.CacheSize
	}
	stores.catalog = catalogcache.NewCachedStore(origin, cacheCfg)
	stores.closers = append(stores.closers, stores.catalog)

	archives, err := openArchives(cfg, logger)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	stores.archives = archives
	if c, ok := archives.(io.Closer); ok {
		stores.closers = append(stores.closers, c)
	}

	if err := stores.catalog.Migrate(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	if err := stores.archives.Migrate(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to prepare archive store: %w", err)
	}
	return stores, nil
}

func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalog.Store, error) {
	if dsn := strings.TrimSpace(cfg.Catalog.DatabaseURL); dsn != "" {
		store, err := catalog.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres catalog: %w", err)
		}
		logger.Info("catalog store: postgres")
		return store, nil
	}

	path := cfg.SQLitePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	store, err := catalog.NewSQLiteStore(catalog.SQLiteConfig{Path: path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite catalog: %w", err)
	}
	logger.Info("catalog store: sqlite", "path", path)
	return store, nil
}

func openArchives(cfg *config.Config, logger *slog.Logger) (archive.Store, error) {
	if cfg.Archive.CanUseS3() {
		s3Cfg := archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			UseSSL:    cfg.Archive.UseSSL,
		}
		store, err := archive.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive s3 store: %w", err)
		}
		logger.Info("archive store: s3", "bucket", s3Cfg.Bucket, "endpoint", s3Cfg.Endpoint)
		return store, nil
	}

	if strings.TrimSpace(cfg.Archive.Endpoint) != "" {
		logger.Warn("archive store: using disk fallback (s3 config incomplete)")
	}
	store, err := archive.NewDiskStore(cfg.UploadDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive disk store: %w", err)
	}
	logger.Info("archive store: disk", "dir", store.Dir())
	return store, nil
}
