package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8192

// Sanitize rejects requests carrying path traversal, null bytes or header
// injection before they reach routing. Free-text fields such as symptoms and
// leave reasons are stored as given and never interpreted.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reject := func(reason string) error {
				logger.Warn().Str("reason", reason).Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).Msg("request rejected")
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}

			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = req.URL.Path
			}
			if containsPathTraversal(req.URL.Path) || containsPathTraversal(rawPath) {
				return reject("path traversal detected")
			}
			if containsNullByte(req.URL.Path) || containsNullByte(rawPath) {
				return reject("null byte in path")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject("header value too large: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject("header injection detected: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				if containsNullByte(key) {
					return reject("null byte in query parameter")
				}
				for _, v := range values {
					if containsNullByte(v) {
						return reject("null byte in query parameter " + key)
					}
				}
			}

			return next(c)
		}
	}
}

func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
