package plugins

import (
	"errors"
	"fmt"
)

// Well-known plugin error codes
const (
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeInternal     = 500
)

// Error is a failure reported by a plugin function
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin error %d: %s", e.Code, e.Message)
}

// NotFound is returned when the function or resource does not apply
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error with an explicit code
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err carries the 404 code
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == CodeNotFound
}
