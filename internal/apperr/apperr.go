// Package apperr defines the error taxonomy shared by the codec, the transfer
// service and the client.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind
// (what class of failure it is) and a Code (which specific failure). Packages
// declare their failures as sentinel *Error values; callers attach the
// offending field and value with With and test with errors.Is, which matches
// on Code so decorated copies still compare equal to their sentinel.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind classifies a failure by how the caller is expected to react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindIntegrityViolation
	KindConflict
	KindStructuralFormat
	KindNotFound
	KindUnreachable
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindIntegrityViolation:
		return "integrity_violation"
	case KindConflict:
		return "conflict"
	case KindStructuralFormat:
		return "structural_format"
	case KindNotFound:
		return "not_found"
	case KindUnreachable:
		return "unreachable"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a typed failure. The zero value is not useful; build sentinels with
// New and decorate them with With and Wrap.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Value   string
	Err     error
}

// New declares a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q", e.Field)
		if e.Value != "" {
			fmt.Fprintf(&b, ", value %q", e.Value)
		}
		b.WriteString(")")
	} else if e.Value != "" {
		fmt.Fprintf(&b, " (%s)", e.Value)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// MaxDetailLen bounds Field and Value. Longer details are cut and marked
// with a trailing ellipsis.
const MaxDetailLen = 128

// With returns a copy of e naming the offending field and value.
func (e *Error) With(field, value string) *Error {
	cp := *e
	cp.Field = truncate(field)
	cp.Value = truncate(value)
	return &cp
}

// Withf returns a copy of e whose Value is the formatted detail.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Value = truncate(fmt.Sprintf(format, args...))
	return &cp
}

func truncate(s string) string {
	if len(s) <= MaxDetailLen {
		return s
	}
	cut := MaxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps err onto a stable transport status.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInputValidation:
		return http.StatusBadRequest
	case KindIntegrityViolation:
		return http.StatusNotAcceptable
	case KindConflict:
		return http.StatusConflict
	case KindStructuralFormat:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is the inverse of HTTPStatus for statuses it produces.
// 413 maps to KindInputValidation.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return KindInputValidation
	case http.StatusNotAcceptable:
		return KindIntegrityViolation
	case http.StatusConflict:
		return KindConflict
	case http.StatusUnprocessableEntity:
		return KindStructuralFormat
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindUnreachable
	default:
		return KindUnknown
	}
}
