package media

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard is a cross-process lock keyed by message id.
type Guard interface {
	Acquire(ctx context.Context, messageID int64) (bool, error)
	Release(ctx context.Context, messageID int64) error
}

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard locks with SETNX. The ttl bounds how long a crashed worker
// can keep a message locked.
func NewRedisGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Acquire(ctx context.Context, messageID int64) (bool, error) {
	ok, err := g.client.SetNX(ctx, lockKey(messageID), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire media lock: %w", err)
	}
	return ok, nil
}

func (g *redisGuard) Release(ctx context.Context, messageID int64) error {
	if err := g.client.Del(ctx, lockKey(messageID)).Err(); err != nil {
		return fmt.Errorf("failed to release media lock: %w", err)
	}
	return nil
}

func lockKey(messageID int64) string {
	return fmt.Sprintf("media:lock:%d", messageID)
}
