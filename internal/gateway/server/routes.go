package server

import (
	"log/slog"
	"net/http"

	"dardanelles/internal/catalogv1"
	"dardanelles/internal/gateway/handler"
	"dardanelles/internal/gateway/handler/rpc"
	"dardanelles/internal/gateway/middleware"
)

// Routes collects the handlers served by the gateway.
type Routes struct {
	Transfer *handler.TransferHandler
	Watch    *handler.WatchHandler
	Catalog  *rpc.CatalogHandler
	// MaxUploadBytes caps the upload body; zero leaves it uncapped.
	MaxUploadBytes int64
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewMux(routes Routes) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	if routes.Catalog != nil {
		mux.Handle(catalogv1.NewCatalogServiceHandler(routes.Catalog))
	}

	// Transfer Handlers
	t := routes.Transfer
	mux.HandleFunc("GET /{$}", t.HandleIndex)
	mux.HandleFunc("GET /ping", t.HandlePing)
	mux.HandleFunc("GET /catalog", t.HandleCatalog)
	mux.Handle("POST /upload", uploadLimit(routes.MaxUploadBytes)(http.HandlerFunc(t.HandleUpload)))
	mux.HandleFunc("GET /download", t.HandleDownload)
	mux.HandleFunc("POST /download", t.HandleDownload)

	if routes.Watch != nil {
		mux.HandleFunc("GET /catalog/watch", routes.Watch.HandleWatch)
	}

	// Middleware
	return middleware.Logging(routes.Logger)(middleware.CORS(routes.AllowedOrigins...)(mux))
}

// uploadLimit leaves room above the archive cap for multipart framing.
func uploadLimit(maxArchive int64) func(http.Handler) http.Handler {
	if maxArchive <= 0 {
		return middleware.MaxBytes(0)
	}
	return middleware.MaxBytes(maxArchive + 1<<20)
}
