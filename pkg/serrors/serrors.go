package serrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the client-facing failure shape shared by every service.
// Status is the HTTP status the controllers will answer with, Code is a
// stable machine-readable identifier, Cause carries the underlying error
// for logs only.
type Error struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(status int, code, message string, cause error) *Error {
	return &Error{Status: status, Code: code, Message: message, Cause: cause}
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "WT_NOT_FOUND", message, nil)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "WT_FORBIDDEN", message, nil)
}

func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message, nil)
}

// BadRequest is for well-formed requests the domain rules reject
// outright, under a caller-specific code.
func BadRequest(code, message string) *Error {
	return New(http.StatusBadRequest, code, message, nil)
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, "WT_VALIDATION", message, nil)
}

// InvalidQuery flags an unparsable query-string parameter, as opposed to
// a well-formed request that fails domain validation.
func InvalidQuery(message string) *Error {
	return New(http.StatusBadRequest, "WT_INVALID_QUERY", message, nil)
}

// As unwraps err into *Error when possible.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
