package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/auth"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func requestAs(e *echo.Echo, userID int64) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	if userID != 0 {
		req = req.WithContext(auth.WithCaller(req.Context(), auth.NewCaller(userID, []string{auth.RolePatient}, nil)))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_WithinBurst(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		c, rec := requestAs(e, 1)
		if err := h(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		c, _ := requestAs(e, 1)
		if err := h(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	c, rec := requestAs(e, 1)
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_PerCallerIsolation(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c1, _ := requestAs(e, 1)
	if err := h(c1); err != nil {
		t.Fatalf("caller 1: unexpected error %v", err)
	}
	c1b, _ := requestAs(e, 1)
	if err := h(c1b); err == nil {
		t.Fatal("caller 1: expected second request to be limited")
	}

	c2, _ := requestAs(e, 2)
	if err := h(c2); err != nil {
		t.Fatalf("caller 2: expected its own bucket, got %v", err)
	}
}

func TestRateLimit_TenantPrefix(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c1, _ := requestAs(e, 0)
	c1.Set("jwt_tenant_id", "hospital_a")
	if err := h(c1); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	c2, _ := requestAs(e, 0)
	c2.Set("jwt_tenant_id", "hospital_b")
	if err := h(c2); err != nil {
		t.Fatalf("other tenant should not share the bucket, got %v", err)
	}
}

func TestBucket_ZeroRateWaitsOneSecond(t *testing.T) {
	now := time.Now()
	b := &bucket{level: 1, seen: now}
	if ok, _ := b.take(now, 0, 1); !ok {
		t.Fatal("expected the first token to be spent")
	}
	if ok, wait := b.take(now, 0, 1); ok || wait != 1 {
		t.Errorf("expected refusal with a 1s wait, got ok=%v wait=%d", ok, wait)
	}
}

func TestBucket_Refills(t *testing.T) {
	now := time.Now()
	b := &bucket{level: 0, seen: now}
	if ok, wait := b.take(now, 2, 4); ok || wait != 1 {
		t.Fatalf("expected refusal with a 1s wait, got ok=%v wait=%d", ok, wait)
	}
	if ok, _ := b.take(now.Add(time.Second), 2, 4); !ok {
		t.Error("expected a token after one second at 2 rps")
	}
}

func TestLimiter_ReusesBucketPerKey(t *testing.T) {
	l := newLimiter(DefaultRateLimitConfig(), nil)
	now := time.Now()
	if l.bucketFor("k1", now) != l.bucketFor("k1", now) {
		t.Error("expected same bucket for same key")
	}
	if l.bucketFor("k1", now) == l.bucketFor("k2", now) {
		t.Error("expected different buckets for different keys")
	}
}

func TestLimiter_DropsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute},
		func() time.Time { return now })

	l.allow("kiosk-1")
	l.allow("kiosk-2")
	if l.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.size())
	}

	now = now.Add(2 * time.Minute)
	l.allow("kiosk-3")
	if l.size() != 1 {
		t.Errorf("expected idle buckets dropped, got %d", l.size())
	}
}
