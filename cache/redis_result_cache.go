package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"VKMBot/model"
)

// GetSearchKey returns the Redis key holding a user's result set.
func GetSearchKey(userID int64) string {
	return fmt.Sprintf("search:%d", userID)
}

// RedisResultCache stores each result set as one JSON value with a TTL, so
// a Put is a single atomic SET.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ResultCache = (*RedisResultCache)(nil)

func NewRedisResultCache(client *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl}
}

func (c *RedisResultCache) Put(ctx context.Context, userID int64, results []model.Candidate) error {
	if len(results) == 0 {
		return c.Drop(ctx, userID)
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal search results: %w", err)
	}
	if err := c.client.Set(ctx, GetSearchKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store search results: %w", err)
	}
	return nil
}

func (c *RedisResultCache) Resolve(ctx context.Context, userID int64, index int) (model.Candidate, error) {
	data, err := c.client.Get(ctx, GetSearchKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Candidate{}, ErrExpiredOrInvalid
	}
	if err != nil {
		return model.Candidate{}, fmt.Errorf("%w: %v", ErrExpiredOrInvalid, err)
	}

	var results []model.Candidate
	if err := json.Unmarshal(data, &results); err != nil {
		return model.Candidate{}, fmt.Errorf("%w: corrupt entry: %v", ErrExpiredOrInvalid, err)
	}
	return pick(results, index)
}

func (c *RedisResultCache) Drop(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, GetSearchKey(userID)).Err()
}
