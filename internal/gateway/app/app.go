package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"dardanelles/internal/gateway/auth"
	"dardanelles/internal/gateway/config"
	"dardanelles/internal/gateway/handler"
	"dardanelles/internal/gateway/handler/rpc"
	"dardanelles/internal/gateway/server"
	"dardanelles/internal/gateway/service/transfer"
)

type App struct {
	server  *server.Server
	stores  *gatewayStores
	service *transfer.Service
	logger  *slog.Logger
}

// New opens the stores, migrates them and assembles the HTTP server. Nothing
// touches disk or network before New is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Dependencies
	stores, err := initStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	spoolDir := filepath.Join(cfg.DataDir, "spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	feed := transfer.NewFeed(32)
	svc := transfer.New(stores.catalog, stores.archives, transfer.Options{
		TempDir:        spoolDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
		Feed:           feed,
	})
	keys := auth.ParseKeys(cfg.APIKeys)
	if keys.Open() {
		logger.Warn("no api keys configured: uploads are accepted without credentials")
	}

	// Routing & Server
	mux := server.NewMux(server.Routes{
		Transfer:       handler.NewTransferHandler(svc, keys, logger),
		Watch:          handler.NewWatchHandler(feed, logger),
		Catalog:        rpc.NewCatalogHandler(svc),
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.Origins(),
		Logger:         logger,
	})

	return &App{
		server:  server.New(cfg.Addr(), mux, logger),
		stores:  stores,
		service: svc,
		logger:  logger,
	}, nil
}

func (a *App) Service() *transfer.Service { return a.service }

func (a *App) Start() error {
	return a.server.Start()
}

// Serve runs the server on an existing listener.
func (a *App) Serve(ln net.Listener) error {
	return a.server.Serve(ln)
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.stores.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
