package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemory(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewMemory(3, time.Minute, clock.Now)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "a")
		if err != nil || !res.Allowed {
			t.Fatalf("hit %d: %+v, %v", i+1, res, err)
		}
	}
	res, _ := l.Allow(ctx, "a")
	if res.Allowed {
		t.Fatal("fourth hit should be limited")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 20*time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}

	if res, _ := l.Allow(ctx, "b"); !res.Allowed {
		t.Error("other key should not be limited")
	}

	clock.Advance(20 * time.Second)
	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Error("token should refill after window/limit")
	}
}

func TestMemoryEvictsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewMemory(1, time.Minute, clock.Now)

	_, _ = l.Allow(t.Context(), "a")
	clock.Advance(2 * time.Minute)
	_, _ = l.Allow(t.Context(), "b")

	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket was not evicted")
	}
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedis(client, 2, time.Minute)
	ctx := t.Context()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "ip:1")
		if err != nil || !res.Allowed {
			t.Fatalf("hit %d: %+v, %v", i+1, res, err)
		}
	}
	res, err := l.Allow(ctx, "ip:1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed || res.RetryAfter <= 0 {
		t.Fatalf("third hit: %+v", res)
	}

	mr.FastForward(time.Minute)
	if res, err := l.Allow(ctx, "ip:1"); err != nil || !res.Allowed {
		t.Errorf("after window: %+v, %v", res, err)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	reject := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(NewMemory(1, time.Minute, clock.Now), "search", zerolog.Nop(), reject)(ok)

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/rsvp/search", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec := do("10.0.0.1:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := do("10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other IP = %d", rec.Code)
	}

	open := Middleware(failingLimiter{}, "search", zerolog.Nop(), reject)(ok)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("limiter failure should fail open, got %d", rec.Code)
	}
}
