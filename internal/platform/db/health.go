package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the /health/db view of the connection pool. Booking bursts at
// the start of a registration window show up as Saturated before requests
// begin timing out.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Saturated       bool   `json:"saturated"`
	Healthy         bool   `json:"healthy"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	st := pool.Stat()
	return PoolStats{
		TotalConns:      st.TotalConns(),
		IdleConns:       st.IdleConns(),
		AcquiredConns:   st.AcquiredConns(),
		MaxConns:        st.MaxConns(),
		AcquireCount:    st.AcquireCount(),
		AcquireDuration: st.AcquireDuration().String(),
		Saturated:       st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns(),
		Healthy:         st.TotalConns() > 0,
	}
}

type healthReport struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Pool   PoolStats `json:"pool"`
}

// report grades a ping result: unreachable is unhealthy, a full pool is
// degraded but still served.
func report(stats PoolStats, pingErr error) (int, healthReport) {
	r := healthReport{Status: "healthy", Pool: stats}
	switch {
	case pingErr != nil:
		r.Status, r.Error = "unhealthy", pingErr.Error()
		r.Pool.Healthy = false
		return http.StatusServiceUnavailable, r
	case stats.Saturated:
		r.Status = "degraded"
	}
	return http.StatusOK, r
}

// HealthHandler serves GET /health/db with a 5s ping budget.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		code, r := report(statsOf(pool), pool.Ping(ctx))
		return c.JSON(code, r)
	}
}
