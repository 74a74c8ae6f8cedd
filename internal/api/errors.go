// Package api maps domain failures to structured HTTP error responses
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/redseat/internal/errors"
	"github.com/mantonx/redseat/internal/logger"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/requestmodule"
	"github.com/mantonx/redseat/internal/modules/sourcemodule"
	"github.com/mantonx/redseat/internal/modules/videoconvertmodule"
	"github.com/mantonx/redseat/internal/outbound"
	"github.com/mantonx/redseat/internal/remotezip"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RespondWithError sends a structured error response
func RespondWithError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	appErr := ToAppError(err)
	logError(appErr, c, requestID)

	c.JSON(appErr.Status(), ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      string(appErr.Code),
			Message:   appErr.Error(),
			Details:   appErr.Details,
			RequestID: requestID,
		},
	})
}

// RespondWithValidationError sends a validation error response
func RespondWithValidationError(c *gin.Context, message string, field string) {
	RespondWithError(c, apperrors.NewValidationError(message, field))
}

// ToAppError classifies err. Plugin codes are passed through in the details.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		unsupported *pluginmodule.UnsupportedCallError
		pluginErr   *pluginmodule.PluginError
		transport   *pluginmodule.TransportError
		upstream    *outbound.UpstreamError
		pageErr     *remotezip.PageNotFoundError
		methodErr   *remotezip.UnsupportedMethodError
		shortRead   *remotezip.ShortReadError
	)

	switch {
	case errors.As(err, &unsupported):
		return apperrors.NewUnsupportedError(unsupported.PluginID, unsupported.Function)
	case errors.As(err, &pluginErr):
		if pluginErr.IsNotFound() {
			return notFound("plugin resource", err)
		}
		return apperrors.NewPluginError(pluginErr.PluginID, pluginErr.Code, pluginErr.Message)
	case errors.As(err, &transport):
		e := apperrors.NewPluginError(transport.PluginID, 0, transport.Err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			e.HTTPStatus = http.StatusGatewayTimeout
		}
		return e

	case errors.Is(err, pluginmodule.ErrPluginNotFound):
		return notFound("plugin", err)
	case errors.Is(err, sourcemodule.ErrLibraryNotFound):
		return notFound("library", err)
	case errors.Is(err, requestmodule.ErrJobNotFound):
		return notFound("processing job", err)
	case errors.Is(err, videoconvertmodule.ErrJobNotFound):
		return notFound("conversion job", err)
	case errors.Is(err, requestmodule.ErrNotFound), errors.Is(err, sourcemodule.ErrNotFound):
		return notFound("request", err)
	case errors.Is(err, videoconvertmodule.ErrNoCapabilities):
		return notFound("capabilities", err)

	case errors.Is(err, requestmodule.ErrDuplicateJob), errors.Is(err, requestmodule.ErrInvalidTransition):
		e := apperrors.NewConflictError(err.Error())
		e.Cause = err
		return e
	case errors.Is(err, videoconvertmodule.ErrNotAccepted):
		return apperrors.NewPluginError("", http.StatusNotFound, err.Error())

	case errors.Is(err, sourcemodule.ErrInvalidKey):
		return apperrors.NewValidationError(err.Error(), "path")
	case errors.Is(err, sourcemodule.ErrRangeNotSatisfiable):
		return &apperrors.AppError{Code: apperrors.CodeValidation, Message: err.Error(), HTTPStatus: http.StatusRequestedRangeNotSatisfiable}
	case errors.Is(err, sourcemodule.ErrUnknownSource):
		return apperrors.NewInternalError("library misconfigured", err)

	case errors.As(err, &upstream):
		return apperrors.NewUpstreamError(upstream.Status, err)
	case errors.Is(err, outbound.ErrCircuitOpen):
		e := apperrors.NewUpstreamError(0, err)
		e.HTTPStatus = http.StatusServiceUnavailable
		return e

	case errors.As(err, &pageErr):
		return apperrors.NewFormatError("archive page not found", err).
			WithDetail("page", pageErr.Page).
			WithDetail("entries", pageErr.Seen)
	case errors.As(err, &methodErr), errors.As(err, &shortRead),
		errors.Is(err, remotezip.ErrEOCDNotFound), errors.Is(err, remotezip.ErrEOCDTooShort),
		errors.Is(err, remotezip.ErrEntryOutOfBounds), errors.Is(err, remotezip.ErrEntryTooLarge),
		errors.Is(err, remotezip.ErrRangeUnsupported):
		return apperrors.NewFormatError("archive extraction failed", err)
	case errors.Is(err, remotezip.ErrInvalidPage), errors.Is(err, remotezip.ErrInvalidSize):
		return apperrors.NewValidationError(err.Error(), "page")

	case errors.Is(err, context.DeadlineExceeded):
		e := apperrors.NewInternalError("request timed out", err)
		e.HTTPStatus = http.StatusGatewayTimeout
		return e
	}

	return apperrors.NewInternalError("internal error", err)
}

func notFound(resource string, cause error) *apperrors.AppError {
	e := apperrors.NewNotFoundError(resource, "")
	e.Cause = cause
	delete(e.Details, "id")
	return e
}

func logError(err *apperrors.AppError, c *gin.Context, requestID string) {
	fields := []interface{}{
		"error_code", err.Code,
		"error", err.Error(),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"request_id", requestID,
	}

	if err.Status() >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
		return
	}
	logger.Debug("request rejected", fields...)
}

// ErrorMiddleware recovers from panics in handlers
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				var err error
				switch v := r.(type) {
				case error:
					err = v
				case string:
					err = errors.New(v)
				default:
					err = errors.New("unknown panic")
				}

				logger.Error("panic recovered",
					"error", err,
					"request_path", c.Request.URL.Path,
					"request_method", c.Request.Method,
				)
				RespondWithError(c, apperrors.NewInternalError("panic recovered", err))
				c.Abort()
			}
		}()
		c.Next()
	}
}
