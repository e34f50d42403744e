package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNop_AlwaysMisses(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); ok || err != nil {
		t.Errorf("expected miss without error, got ok=%v err=%v", ok, err)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not-a-url", ""); err == nil {
		t.Error("expected error for malformed url")
	}
}

func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, "test:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	if err := r.Set(ctx, "tier", []byte(`{"normal":30}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := r.Get(ctx, "tier")
	if err != nil || !ok || string(val) != `{"normal":30}` {
		t.Fatalf("unexpected get result %q ok=%v err=%v", val, ok, err)
	}
	if err := r.Delete(ctx, "tier"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "tier"); ok {
		t.Error("expected miss after delete")
	}
}
