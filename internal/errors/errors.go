package errors

import (
	"fmt"
	"net/http"
)

// Code identifies a class of user-visible failure
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeDatabase    Code = "DATABASE_ERROR"
	CodePlugin      Code = "PLUGIN_ERROR"
	CodeUnsupported Code = "PLUGIN_UNSUPPORTED_CALL"
	CodeUpstream    Code = "UPSTREAM_ERROR"
	CodeFormat      Code = "FORMAT_ERROR"
	CodeConflict    Code = "CONFLICT"
)

// AppError is a structured error carrying its HTTP mapping
type AppError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail entry and returns the same error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Status returns the HTTP status, defaulting to 500
func (e *AppError) Status() int {
	if e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

func NewValidationError(message string, field string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    "database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// NewPluginError carries the plugin's own numeric code through to the caller.
func NewPluginError(pluginID string, code int, message string) *AppError {
	return &AppError{
		Code:       CodePlugin,
		Message:    fmt.Sprintf("plugin %s failed: %s", pluginID, message),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]interface{}{"plugin": pluginID, "plugin_code": code},
	}
}

func NewUnsupportedError(pluginID string, function string) *AppError {
	return &AppError{
		Code:       CodeUnsupported,
		Message:    fmt.Sprintf("plugin %s does not support %s", pluginID, function),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]interface{}{"plugin": pluginID, "function": function},
	}
}

func NewUpstreamError(status int, cause error) *AppError {
	return &AppError{
		Code:       CodeUpstream,
		Message:    "upstream request failed",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]interface{}{"upstream_status": status},
		Cause:      cause,
	}
}

func NewFormatError(message string, cause error) *AppError {
	return &AppError{
		Code:       CodeFormat,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}
