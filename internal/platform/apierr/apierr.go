// Package apierr defines the error taxonomy shared by the engine, queue
// service, and HTTP API, and maps it onto HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the sentinel taxonomy every component-level error is classified
// into before it reaches the HTTP layer.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindRetriable  Kind = "retriable"
	KindToolError  Kind = "tool_error"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
	KindFatal      Kind = "fatal"
)

// Error is the concrete error type carried through the system. Components
// wrap underlying errors with New or a per-kind constructor (Validation,
// NotFound, Retriable, ...) instead of returning bare errors so
// the HTTP layer and the retry evaluator can both classify them.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRetriable, KindTimeout:
		return http.StatusServiceUnavailable
	case KindToolError:
		return http.StatusBadGateway
	case KindCancelled:
		return 499
	case KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Code: code, Message: message, Err: err}
}

func Validation(msg string, err error) *Error { return New(KindValidation, "validation_error", msg, err) }
func NotFound(msg string, err error) *Error   { return New(KindNotFound, "not_found", msg, err) }
func Conflict(msg string, err error) *Error   { return New(KindConflict, "conflict", msg, err) }
func Retriable(msg string, err error) *Error  { return New(KindRetriable, "retriable", msg, err) }
func ToolError(msg string, err error) *Error  { return New(KindToolError, "tool_error", msg, err) }
func Timeout(msg string, err error) *Error    { return New(KindTimeout, "timeout", msg, err) }
func Cancelled(msg string, err error) *Error  { return New(KindCancelled, "cancelled", msg, err) }
func Fatal(msg string, err error) *Error      { return New(KindFatal, "fatal", msg, err) }

// As extracts an *Error from err, classifying unknown errors as KindFatal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Fatal("unclassified error", err)
}

// IsRetriable reports whether err should feed the on_error retry path.
func IsRetriable(err error) bool {
	k := As(err).Kind
	return k == KindRetriable || k == KindTimeout
}
