package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "polegion:leaderboard:"

// putIfNewer writes the view only when its watermark is not behind the stored one.
var putIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'watermark')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'watermark', ARGV[1], 'view', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisConfig holds configuration for the Redis view cache
type RedisConfig struct {
	RedisClient *redis.Client
	// TTL expires idle views; zero keeps them forever.
	TTL time.Duration
}

// RedisCache shares leaderboard views across gateway and service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed view cache
func NewRedisCache(cfg *RedisConfig) (*RedisCache, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: cfg.RedisClient, ttl: cfg.TTL}, nil
}

func viewKey(scope Scope) string {
	return viewKeyPrefix + scope.Key()
}

func (c *RedisCache) Get(ctx context.Context, scope Scope) (*View, error) {
	raw, err := c.client.HGet(ctx, viewKey(scope), "view").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoView
		}
		return nil, fmt.Errorf("failed to get leaderboard view: %w", err)
	}

	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaderboard view: %w", err)
	}
	return &v, nil
}

func (c *RedisCache) Put(ctx context.Context, view *View) (bool, error) {
	raw, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("failed to marshal leaderboard view: %w", err)
	}

	stored, err := putIfNewer.Run(ctx, c.client,
		[]string{viewKey(view.Scope)},
		view.Watermark, raw, int64(c.ttl/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to store leaderboard view: %w", err)
	}
	return stored == 1, nil
}
