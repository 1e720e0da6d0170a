package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard claims the right to issue a code for a household for one cooldown
// window. Acquire reports false when another request already holds it.
type Guard interface {
	Acquire(ctx context.Context, householdID string, ttl time.Duration) (bool, error)
}

// RedisGuard makes the issuance cooldown atomic across server instances.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, prefix: "rsvp:otp:cooldown:"}
}

func (g *RedisGuard) Acquire(ctx context.Context, householdID string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+householdID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire otp cooldown: %w", err)
	}
	return ok, nil
}

// Release drops the claim, used when a household's phone changes and a new
// code must be possible immediately.
func (g *RedisGuard) Release(ctx context.Context, householdID string) error {
	if err := g.client.Del(ctx, g.prefix+householdID).Err(); err != nil {
		return fmt.Errorf("failed to release otp cooldown: %w", err)
	}
	return nil
}
