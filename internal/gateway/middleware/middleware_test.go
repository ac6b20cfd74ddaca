package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	cases := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"any origin echoed", nil, http.MethodGet, "http://example.org", http.StatusTeapot, "http://example.org"},
		{"no origin", nil, http.MethodGet, "", http.StatusTeapot, "*"},
		{"preflight", nil, http.MethodOptions, "http://example.org", http.StatusNoContent, "http://example.org"},
		{"listed origin", []string{"http://lca.example.org/"}, http.MethodGet, "http://lca.example.org", http.StatusTeapot, "http://lca.example.org"},
		{"unlisted origin", []string{"http://lca.example.org"}, http.MethodGet, "http://evil.example", http.StatusTeapot, ""},
		{"unlisted preflight", []string{"http://lca.example.org"}, http.MethodOptions, "http://evil.example", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, "/catalog", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			CORS(tc.allowed...)(next).ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestMaxBytes(t *testing.T) {
	var readErr error
	h := MaxBytes(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(strings.NewReader("0123456789")))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	var maxErr *http.MaxBytesError
	require.ErrorAs(t, readErr, &maxErr)

	readErr = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("012")))
	assert.NoError(t, readErr)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/download", nil))

	line := buf.String()
	assert.Contains(t, line, "path=/download")
	assert.Contains(t, line, "status=404")
	assert.Contains(t, line, "bytes=4")
}
