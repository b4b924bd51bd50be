// Package apperr defines the error taxonomy shared by every picturebook stage.
//
// Errors carry a stable Code so that callers can branch with errors.Is against
// the sentinels below, while the Message and wrapped Cause stay free-form.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeGeneration     = "GENERATION_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
)

var (
	ErrConfiguration  = &Error{Code: CodeConfiguration, Message: "configuration error"}
	ErrUpstream       = &Error{Code: CodeUpstream, Message: "upstream service error"}
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
	ErrGeneration     = &Error{Code: CodeGeneration, Message: "image generation failed"}
	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Service names the external collaborator for upstream failures.
	Service string `json:"service,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) WithCause(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Service: e.Service, Cause: cause}
}

func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Upstream(service string, cause error) *Error {
	return &Error{Code: CodeUpstream, Message: "request failed", Service: service, Cause: cause}
}

// UpstreamStatus reports a non-success HTTP status from an external service.
func UpstreamStatus(service string, status int, body string) *Error {
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &Error{
		Code:    CodeUpstream,
		Message: fmt.Sprintf("unexpected status %d: %s", status, body),
		Service: service,
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Generation(cause error) *Error {
	return &Error{Code: CodeGeneration, Message: "image generation failed", Cause: cause}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
