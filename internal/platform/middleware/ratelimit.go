package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/auth"
)

// RateLimitConfig bounds requests per caller. Buckets untouched for IdleTTL
// are dropped so walk-in kiosks and one-off clients do not pile up.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	IdleTTL           time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 20, BurstSize: 40, IdleTTL: 10 * time.Minute}
}

type bucket struct {
	mu    sync.Mutex
	level float64
	seen  time.Time
}

// take refills b for the time since it was last seen and spends one token.
// A refusal carries the whole seconds until the next token.
func (b *bucket) take(now time.Time, rate, burst float64) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = math.Min(burst, b.level+now.Sub(b.seen).Seconds()*rate)
	b.seen = now
	if b.level >= 1 {
		b.level--
		return true, 0
	}
	if rate <= 0 {
		return false, 1
	}
	return false, int(math.Ceil((1 - b.level) / rate))
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.seen)
}

type limiter struct {
	cfg   RateLimitConfig
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig, clock func() time.Time) *limiter {
	if clock == nil {
		clock = time.Now
	}
	return &limiter{cfg: cfg, clock: clock, buckets: make(map[string]*bucket), swept: clock()}
}

func (l *limiter) allow(key string) (bool, int) {
	now := l.clock()
	return l.bucketFor(key, now).take(now, l.cfg.RequestsPerSecond, float64(l.cfg.BurstSize))
}

func (l *limiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.IdleTTL > 0 && now.Sub(l.swept) >= l.cfg.IdleTTL {
		for k, b := range l.buckets {
			if b.idleSince(now) >= l.cfg.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{level: float64(l.cfg.BurstSize), seen: now}
		l.buckets[key] = b
	}
	return b
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// limitKey is the authenticated user when there is one, the client address
// otherwise, scoped to the hospital named in the token.
func limitKey(c echo.Context) string {
	key := "ip:" + c.RealIP()
	if caller, ok := auth.CallerFromContext(c.Request().Context()); ok && caller.UserID != 0 {
		key = "user:" + strconv.FormatInt(caller.UserID, 10)
	}
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		key = tid + ":" + key
	}
	return key
}

// RateLimit answers 429 with Retry-After once a caller drains its bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg, nil)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := l.allow(limitKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !ok {
				h.Set("Retry-After", strconv.Itoa(wait))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}
