// Package apperr defines the error kinds returned by the domain services and
// their translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a failure. Clients branch on the kind, never on the message.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindForbidden
	KindConflict
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a kind is rendered with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed failure. Details are rendered alongside the message
// (e.g. current_version on a conflict).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value rendered in the response body.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }
func Validation(msg string) *Error   { return New(KindValidation, msg) }

// Internal wraps a store or contract failure. The cause is kept for logging
// but is not rendered to clients.
func Internal(err error, msg string) *Error { return Wrap(KindInternal, err, msg) }

// KindOf reports the kind of err. Untyped errors are Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPError converts err into an *echo.HTTPError whose body is
// {"kind": ..., "message": ..., <details>}. Internal causes are attached as
// the internal error so the request logger still sees them.
func HTTPError(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = Internal(err, "internal server error")
	}
	body := map[string]interface{}{
		"kind":    ae.Kind.String(),
		"message": ae.Message,
	}
	for k, v := range ae.Details {
		body[k] = v
	}
	he := echo.NewHTTPError(ae.Kind.HTTPStatus(), body)
	if ae.Err != nil {
		he.Internal = ae.Err
	}
	return he
}
