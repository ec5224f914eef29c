package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaham1/raftregatta/internal/game"
)

const currentRoundKey = "round:current"

// RedisRoundCache implements game.RoundCache on top of redis.
// The TTL is short: the cache only absorbs dashboard polling bursts, the
// database stays the source of truth.
type RedisRoundCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRoundCache creates a new redis-backed round cache
func NewRedisRoundCache(client *redis.Client, ttl time.Duration) *RedisRoundCache {
	return &RedisRoundCache{
		client: client,
		ttl:    ttl,
	}
}

// GetCurrent returns the cached round projection, or (nil, nil) on miss
func (c *RedisRoundCache) GetCurrent(ctx context.Context) (*game.CurrentRoundView, error) {
	data, err := c.client.Get(ctx, currentRoundKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read round cache: %w", err)
	}

	var view game.CurrentRoundView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to decode cached round: %w", err)
	}
	return &view, nil
}

// SetCurrent stores the round projection with the configured TTL
func (c *RedisRoundCache) SetCurrent(ctx context.Context, view *game.CurrentRoundView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}
	if err := c.client.Set(ctx, currentRoundKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write round cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached projection
func (c *RedisRoundCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, currentRoundKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate round cache: %w", err)
	}
	return nil
}
