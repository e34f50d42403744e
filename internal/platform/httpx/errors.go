package httpx

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/outpatient/internal/platform/apperr"
)

// StatusOf maps an apperr kind to its HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindState:
		return http.StatusConflict
	case apperr.KindCapacity, apperr.KindWindow:
		return http.StatusUnprocessableEntity
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error in the response envelope. Internal errors
// are logged here and their detail is withheld from the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var body Envelope
		var status int

		var appErr *apperr.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = StatusOf(appErr.Kind)
			body = Envelope{Code: status, Error: appErr.Code, Message: appErr.Message}
			if appErr.Kind == apperr.KindTransient {
				c.Response().Header().Set("Retry-After", "1")
			}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			body = Envelope{Code: status, Error: http.StatusText(status), Message: httpErr.Message}
		default:
			status = http.StatusInternalServerError
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
			body = Envelope{Code: status, Error: "InternalError", Message: "internal server error"}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
