// Package httpx holds the echo glue shared by every domain handler: the
// response envelope, request binding with validation, and the error handler
// that maps apperr kinds onto HTTP statuses.
package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/apperr"
)

// Envelope is the uniform response body. Code is 0 on success and the HTTP
// status otherwise; Error carries the stable apperr code on failure.
type Envelope struct {
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Message interface{} `json:"message"`
}

func OK(c echo.Context, payload interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Code: 0, Message: payload})
}

func Created(c echo.Context, payload interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Code: 0, Message: payload})
}

// Bind decodes the request into req and runs the registered validator.
func Bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("malformed request body")
	}
	return c.Validate(req)
}

// ParamID parses a positive int64 path parameter.
func ParamID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// QueryID parses an optional int64 query parameter; nil when absent.
func QueryID(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.Validation("invalid %s", name)
	}
	return &id, nil
}

const DateLayout = "2006-01-02"

// ParseDate parses a calendar date (YYYY-MM-DD) as midnight UTC.
func ParseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be a date in YYYY-MM-DD form", field)
	}
	return d, nil
}

// QueryDate parses an optional date query parameter.
func QueryDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(name, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
