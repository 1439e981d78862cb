package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const shopInfoKeyPrefix = "shopbridge:shopinfo:"

// RedisCache implements ShopInfoCache backed by Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache creates a Redis-backed shop info cache
func NewRedisCache(config RedisConfig, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisCache{
		client: client,
		ttl:    config.TTL,
		logger: logger,
	}
}

// Ping verifies the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached shop info, if any. Cache failures degrade to a
// miss; the caller falls back to the provider.
func (c *RedisCache) Get(ctx context.Context, shopID string) (map[string]any, bool) {
	val, err := c.client.Get(ctx, shopInfoKeyPrefix+shopID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Shop info cache read failed",
			"component", "cache",
			"shop_id", shopID,
			"error", err,
		)
		return nil, false
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		c.logger.Warn("Shop info cache entry corrupt, discarding",
			"component", "cache",
			"shop_id", shopID,
			"error", err,
		)
		return nil, false
	}
	return info, true
}

// Set stores shop info with the configured TTL
func (c *RedisCache) Set(ctx context.Context, shopID string, info map[string]any) {
	data, err := json.Marshal(info)
	if err != nil {
		c.logger.Warn("Failed to marshal shop info for cache",
			"component", "cache",
			"shop_id", shopID,
			"error", err,
		)
		return
	}
	if err := c.client.Set(ctx, shopInfoKeyPrefix+shopID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Shop info cache write failed",
			"component", "cache",
			"shop_id", shopID,
			"error", err,
		)
	}
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
