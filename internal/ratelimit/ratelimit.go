// Package ratelimit throttles the anonymous verification endpoints per client.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Result describes one rate-limit decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts a hit against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Redis is a fixed-window counter shared by every server instance.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "rsvp:ratelimit:"}
}

func (l *Redis) Allow(ctx context.Context, key string) (Result, error) {
	key = l.prefix + key

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("failed to set rate window: %w", err)
		}
	}

	res := Result{Allowed: count <= int64(l.limit), Limit: l.limit, Remaining: max(l.limit-int(count), 0)}
	if !res.Allowed {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			return Result{}, fmt.Errorf("failed to read rate window: %w", err)
		}
		if ttl <= 0 {
			// Counter lost its expiry; restore it so the key cannot stick.
			_ = l.client.Expire(ctx, key, l.window).Err()
			ttl = l.window
		}
		res.RetryAfter = ttl
	}
	return res, nil
}

// Memory is a per-process token bucket per key, used when no Redis is
// configured.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	every   rate.Limit
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewMemory allows limit hits per window with bursts up to limit.
func NewMemory(limit int, window time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		buckets: make(map[string]*bucket),
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		idle:    window,
		now:     now,
	}
}

func (l *Memory) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.evict(now)
		b = &bucket{lim: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Result{Limit: l.limit, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Limit: l.limit, Remaining: int(b.lim.TokensAt(now))}, nil
}

// evict drops buckets idle for a full window; a fresh bucket is equivalent.
func (l *Memory) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, k)
		}
	}
}

// Middleware rejects requests over the limit with reject. Limiter errors
// are logged and the request is let through.
func Middleware(l Limiter, scope string, logger zerolog.Logger, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), scope+":"+ClientIP(r))
			if err != nil {
				logger.Error().Err(err).Str("scope", scope).Msg("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				secs := int((res.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of RemoteAddr. Proxies are expected to be
// handled by middleware that rewrites RemoteAddr first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
