package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"dardanelles/internal/datapackage"
	"dardanelles/internal/digest"
	"dardanelles/internal/graph"
)

// Receipt is the gateway's acknowledgement of an upload.
type Receipt struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Database string `json:"database"`
	Size     int64  `json:"size"`
}

// Upload sends the archive at path, declaring its SHA-256 and the dataset
// name it holds.
func (c *Client) Upload(ctx context.Context, path, database string) (Receipt, error) {
	if err := c.checkAlive(ctx); err != nil {
		return Receipt{}, err
	}
	hash, err := digest.File(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("upload: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	filename := filepath.Base(path)
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, f, filename, database, hash, c.apiKey))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		_ = pr.Close()
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.do(req)
	_ = pr.Close()
	if err != nil {
		return Receipt{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, ErrBadResponse.Withf("upload receipt").Wrap(err)
	}
	c.logger.Info("uploaded archive", "filename", receipt.Filename, "sha256", receipt.SHA256)
	return receipt, nil
}

func writeUploadForm(mw *multipart.Writer, body io.Reader, filename, database, hash, apiKey string) error {
	fields := [][2]string{
		{"filename", filename},
		{"database", database},
		{"sha256", hash},
	}
	if apiKey != "" {
		fields = append(fields, [2]string{"api_key", apiKey})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

// UploadDatabase exports a dataset to a temporary archive, uploads it and
// removes the archive again.
func (c *Client) UploadDatabase(ctx context.Context, provider graph.Provider, opts datapackage.ExportOptions) (Receipt, error) {
	if err := c.checkAlive(ctx); err != nil {
		return Receipt{}, err
	}
	dir, err := os.MkdirTemp("", "dardanelles-export-*")
	if err != nil {
		return Receipt{}, err
	}
	defer os.RemoveAll(dir)

	opts.Directory = dir
	path, err := datapackage.Export(ctx, provider, opts)
	if err != nil {
		return Receipt{}, fmt.Errorf("export %s: %w", opts.Database, err)
	}
	return c.Upload(ctx, path, opts.Database)
}

// Download fetches the archive with the given hash into dir and returns its
// path. The bytes are hashed on the way in; a mismatch leaves nothing behind
// and fails with ErrIntegrity.
func (c *Client) Download(ctx context.Context, hash, dir string) (string, error) {
	want, err := digest.Normalize(hash)
	if err != nil {
		return "", ErrInvalidHash.With("sha256", hash).Wrap(err)
	}
	if err := c.checkAlive(ctx); err != nil {
		return "", err
	}

	form := url.Values{"hash": {want}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", want, err)
	}
	defer resp.Body.Close()

	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	keep := false
	defer func() {
		if !keep {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	dw := digest.NewWriter(tmp)
	if _, err := io.Copy(dw, resp.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", want, err)
	}
	if got := dw.Sum(); !digest.Equal(got, want) {
		return "", ErrIntegrity.With("sha256", got)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, downloadName(resp.Header.Get("Content-Disposition"), want))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	keep = true
	return path, nil
}

func downloadName(disposition, hash string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := datapackage.SafeFilename(params["filename"]); name != "" {
			return name
		}
	}
	return hash + ".zip"
}

// ImportFromHash downloads an archive, decodes it and rebuilds its graph.
func (c *Client) ImportFromHash(ctx context.Context, hash string) (graph.Graph, *datapackage.Package, error) {
	dir, err := os.MkdirTemp("", "dardanelles-import-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	path, err := c.Download(ctx, hash, dir)
	if err != nil {
		return nil, nil, err
	}
	pkg, err := datapackage.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	g, err := graph.Reconstruct(pkg.Nodes, pkg.Edges)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstruct %s: %w", pkg.Database(), err)
	}
	return g, pkg, nil
}

// IsUnreachable reports whether err came from a failed liveness check.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
