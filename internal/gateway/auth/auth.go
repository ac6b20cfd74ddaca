// Package auth checks upload credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"dardanelles/internal/apperr"
)

var ErrUnauthorized = apperr.New(apperr.KindUnauthorized, "unauthorized", "missing or invalid credential")

// Validator decides whether a presented token may upload.
type Validator interface {
	Validate(ctx context.Context, token string) error
}

// StaticKeys accepts a fixed set of API keys. With no keys configured every
// request is accepted, which keeps a local gateway usable without setup.
type StaticKeys struct {
	keys [][]byte
}

func NewStaticKeys(keys ...string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// ParseKeys splits a comma separated key list.
func ParseKeys(raw string) *StaticKeys {
	return NewStaticKeys(strings.Split(raw, ",")...)
}

func (s *StaticKeys) Open() bool { return s == nil || len(s.keys) == 0 }

func (s *StaticKeys) Validate(_ context.Context, token string) error {
	if s.Open() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized.With("authorization", "")
	}
	var match int
	for _, k := range s.keys {
		match |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	if match != 1 {
		return ErrUnauthorized
	}
	return nil
}

// TokenFromRequest reads a bearer token, falling back to the api_key form
// field. The form must already be parsed for the fallback to apply.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if r.MultipartForm != nil {
		if v := r.MultipartForm.Value["api_key"]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return strings.TrimSpace(r.PostForm.Get("api_key"))
}
