package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/hyperfast/internal/response"
)

// Kind classifies an APIError. The set is closed.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindBadRequest
	KindForbidden
	KindNoContent
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	case KindNoContent:
		return "no_content"
	case KindInternal:
		return "internal_server_error"
	default:
		return "unknown"
	}
}

// Code returns the HTTP status for the kind.
func (k Kind) Code() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNoContent:
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}

// APIError is an error that maps to exactly one HTTP response.
type APIError struct {
	Kind   Kind
	Reason string

	underlying error
}

func (e *APIError) Error() string {
	return e.Body()
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// Is reports whether target is an APIError of the same kind.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Code returns the HTTP status code.
func (e *APIError) Code() int {
	return e.Kind.Code()
}

// Body returns the response body text.
func (e *APIError) Body() string {
	switch e.Kind {
	case KindNotFound:
		return "Not found: " + e.Reason
	case KindForbidden:
		return "Forbidden: " + e.Reason
	case KindNoContent:
		return "No Content: " + e.Reason
	case KindBadRequest:
		return "Bad Request: " + e.cause()
	default:
		return "Error in serving request ==> " + e.cause()
	}
}

func (e *APIError) cause() string {
	if e.underlying != nil {
		return e.underlying.Error()
	}
	return e.Reason
}

// Response renders the error. NoContent responses carry no body.
func (e *APIError) Response(host string) *response.Response {
	code := e.Code()
	if code == http.StatusNoContent {
		return response.New(code, host, nil)
	}
	body := e.Body()
	resp := response.New(code, host, io.NopCloser(strings.NewReader(body)))
	resp.Header.Set("Content-Type", response.ContentTypeText)
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return resp
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotFound   = &APIError{Kind: KindNotFound}
	ErrBadRequest = &APIError{Kind: KindBadRequest}
	ErrForbidden  = &APIError{Kind: KindForbidden}
	ErrNoContent  = &APIError{Kind: KindNoContent}
	ErrInternal   = &APIError{Kind: KindInternal}
)

// NotFound creates a 404 error naming what was not found.
func NotFound(reason string) *APIError {
	return &APIError{Kind: KindNotFound, Reason: reason}
}

// Forbidden creates a 403 error.
func Forbidden(reason string) *APIError {
	return &APIError{Kind: KindForbidden, Reason: reason}
}

// NoContent creates a 204 error. The reason is kept for logs only.
func NoContent(reason string) *APIError {
	return &APIError{Kind: KindNoContent, Reason: reason}
}

// BadRequest wraps err as a 400.
func BadRequest(err error) *APIError {
	return &APIError{Kind: KindBadRequest, Reason: errText(err), underlying: err}
}

// Internal wraps err as a 500.
func Internal(err error) *APIError {
	return &APIError{Kind: KindInternal, Reason: errText(err), underlying: err}
}

// Internalf formats a 500 error.
func Internalf(format string, args ...any) *APIError {
	return Internal(fmt.Errorf(format, args...))
}

// FromError returns err as an APIError. Any error that does not already carry
// an APIError in its chain becomes an internal server error.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
