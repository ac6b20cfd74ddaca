// Package client talks to a dardanelles gateway: it lists the catalog,
// uploads exported datasets and downloads archives by hash.
//
// Every operation first checks that the gateway answers /ping and fails with
// ErrUnreachable when it does not. Error responses are decoded back into
// *apperr.Error values whose codes match the gateway's sentinels, so callers
// can test them with errors.Is against, for example, transfer.ErrHashMismatch.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"connectrpc.com/connect"

	"dardanelles/internal/apperr"
	"dardanelles/internal/catalogv1"
	"dardanelles/internal/gateway/repository/catalog"
)

const DefaultURL = "http://localhost:5000"

var (
	ErrUnreachable = apperr.New(apperr.KindUnreachable, "unreachable", "can't reach the dardanelles gateway")
	ErrIntegrity   = apperr.New(apperr.KindIntegrityViolation, "download_hash_mismatch", "downloaded bytes do not match the requested hash")
	ErrInvalidHash = apperr.New(apperr.KindInputValidation, "invalid_hash", "not a sha256 hex digest")
	ErrBadResponse = apperr.New(apperr.KindUnknown, "bad_response", "unexpected response from the gateway")
)

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sends key as a bearer token on uploads.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
	rpc        *catalogv1.CatalogServiceClient
}

// New returns a client for the gateway at baseURL; DefaultURL when empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported url scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rpc = catalogv1.NewCatalogServiceClient(c.httpClient, c.baseURL)
	return c, nil
}

func (c *Client) URL() string { return c.baseURL }

// Alive reports whether the gateway answers /ping with "pong".
func (c *Client) Alive(ctx context.Context) bool {
	return c.ping(ctx) == nil
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "pong" {
		return fmt.Errorf("ping returned %d %q", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) checkAlive(ctx context.Context) error {
	if err := c.ping(ctx); err != nil {
		return ErrUnreachable.With("url", c.baseURL).Wrap(err)
	}
	return nil
}

// Listing is one catalog row as served by /catalog.
type Listing struct {
	Filename string
	Database string
	SHA256   string
}

// Catalog lists the stored archives.
func (c *Client) Catalog(ctx context.Context) ([]Listing, error) {
	if err := c.checkAlive(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/catalog", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer resp.Body.Close()

	var triples [][3]string
	if err := json.NewDecoder(resp.Body).Decode(&triples); err != nil {
		return nil, ErrBadResponse.Withf("catalog").Wrap(err)
	}
	out := make([]Listing, len(triples))
	for i, t := range triples {
		out[i] = Listing{Filename: t[0], Database: t[1], SHA256: t[2]}
	}
	return out, nil
}

// Lookup fetches the full catalog entry for hash over the CatalogService RPC.
func (c *Client) Lookup(ctx context.Context, hash string) (catalog.Entry, error) {
	if err := c.checkAlive(ctx); err != nil {
		return catalog.Entry{}, err
	}
	entry, err := c.rpc.Lookup(ctx, hash)
	if err != nil {
		return catalog.Entry{}, fromConnectError(err)
	}
	return entry, nil
}

// Status reports the upload state of hash: absent, uploading, stored or
// rejected.
func (c *Client) Status(ctx context.Context, hash string) (string, error) {
	if err := c.checkAlive(ctx); err != nil {
		return "", err
	}
	state, err := c.rpc.Status(ctx, hash)
	if err != nil {
		return "", fromConnectError(err)
	}
	return state, nil
}

// do sends req and turns any non-2xx response into an error. On success the
// caller closes the body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ErrUnreachable.With("url", c.baseURL).Wrap(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body = errorBody{
			Error:   "http_" + fmt.Sprint(resp.StatusCode),
			Message: strings.TrimSpace(string(raw)),
		}
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}
	return &apperr.Error{
		Kind:    apperr.KindForStatus(resp.StatusCode),
		Code:    body.Error,
		Message: body.Message,
		Field:   body.Field,
		Value:   body.Value,
	}
}

func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	code := cerr.Meta().Get(catalogv1.ErrorCodeHeader)
	if code == "" {
		return err
	}
	kind := apperr.KindUnknown
	switch cerr.Code() {
	case connect.CodeInvalidArgument:
		kind = apperr.KindInputValidation
	case connect.CodeNotFound:
		kind = apperr.KindNotFound
	case connect.CodeAlreadyExists:
		kind = apperr.KindConflict
	case connect.CodeFailedPrecondition:
		kind = apperr.KindStructuralFormat
	case connect.CodeUnauthenticated:
		kind = apperr.KindUnauthorized
	case connect.CodeUnavailable:
		kind = apperr.KindUnreachable
	case connect.CodeDataLoss:
		kind = apperr.KindIntegrityViolation
	}
	return &apperr.Error{Kind: kind, Code: code, Message: cerr.Message(), Err: err}
}
