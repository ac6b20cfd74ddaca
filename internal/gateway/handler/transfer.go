package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"dardanelles/internal/apperr"
	"dardanelles/internal/gateway/auth"
	"dardanelles/internal/gateway/service/transfer"
	"dardanelles/internal/version"
)

// multipartMemory is how much of an upload form is held in memory before
// file parts spill to disk.
const multipartMemory = 8 << 20

// TransferHandler serves the plain HTTP surface: banner, liveness, catalog,
// upload and download.
type TransferHandler struct {
	svc    *transfer.Service
	auth   auth.Validator
	logger *slog.Logger
}

func NewTransferHandler(svc *transfer.Service, validator auth.Validator, logger *slog.Logger) *TransferHandler {
	if validator == nil {
		validator = auth.NewStaticKeys()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TransferHandler{svc: svc, auth: validator, logger: logger}
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
}

func (h *TransferHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "dardanelles web service, version %s.", version.Version)
}

func (h *TransferHandler) HandlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "pong")
}

// HandleCatalog lists [filename, database, sha256] triples.
func (h *TransferHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Catalog(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([][3]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, [3]string{e.Filename, e.Database, e.SHA256})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TransferHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, transfer.ErrTooLarge.Withf("limit is %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, r, transfer.ErrMissingField.Withf("malformed multipart form").Wrap(err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if err := h.auth.Validate(r.Context(), auth.TokenFromRequest(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	req := transfer.UploadRequest{
		Filename: r.FormValue("filename"),
		Database: r.FormValue("database"),
		SHA256:   r.FormValue("sha256"),
	}
	var file multipart.File
	if f, _, err := r.FormFile("file"); err == nil {
		file = f
		defer file.Close()
		req.Body = file
	}

	receipt, err := h.svc.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleDownload serves an archive by exact hash, taken from the "hash" form
// field (POST) or the "sha256" query parameter (GET).
func (h *TransferHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var hash string
	switch r.Method {
	case http.MethodPost:
		hash = r.PostFormValue("hash")
	default:
		hash = r.URL.Query().Get("sha256")
		if hash == "" {
			hash = r.URL.Query().Get("hash")
		}
	}
	if strings.TrimSpace(hash) == "" {
		h.writeError(w, r, transfer.ErrMissingField.With("hash", ""))
		return
	}

	dl, err := h.svc.Download(r.Context(), hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Entry.Filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("X-Content-SHA256", dl.Entry.SHA256)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		h.logger.Warn("download interrupted", "sha256", dl.Entry.SHA256, "error", err)
	}
}

func (h *TransferHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if errors.Is(err, transfer.ErrTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	body := ErrorBody{Error: "internal", Message: "internal error"}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body = ErrorBody{Error: appErr.Code, Message: appErr.Message, Field: appErr.Field, Value: appErr.Value}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Info("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "code", body.Error)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
