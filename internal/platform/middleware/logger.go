package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
)

// Logger writes one line per request. Business errors (capacity, window,
// state) are expected outcomes and log at warn; everything else at error.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				switch apperr.KindOf(err) {
				case apperr.KindInternal, apperr.KindTransient:
					evt = logger.Error().Err(err)
				default:
					evt = logger.Warn().Err(err)
				}
				evt = evt.Str("error_code", apperr.CodeOf(err))
			}
			if caller, ok := auth.CallerFromContext(req.Context()); ok {
				evt = evt.Int64("caller_id", caller.UserID)
			}
			if tid, ok := c.Get("tenant_id").(string); ok {
				evt = evt.Str("tenant", tid)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
