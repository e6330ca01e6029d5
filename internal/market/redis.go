package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ QuoteCache = (*RedisCache)(nil)

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr     string
	Password string
	DB       int
	// TTL is how long a quote lives before expiring
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// RedisCache shares the latest quotes between server instances
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewRedisCache creates a new Redis quote cache.
func NewRedisCache(cfg RedisConfig, logger *slog.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-quote-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(symbol string) string {
	return c.keyPrefix + symbol
}

func (c *RedisCache) Set(ctx context.Context, q Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}
	if err := c.client.Set(ctx, c.key(q.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (Quote, bool, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, fmt.Errorf("failed to get quote: %w", err)
	}

	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		c.logger.Warn("dropping undecodable cached quote", "symbol", symbol, "error", err)
		return Quote{}, false, nil
	}
	return q, true, nil
}
