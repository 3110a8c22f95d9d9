package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/configtypes"
)

const connectTimeout = 5 * time.Second

// Client wraps go-redis with per-operation error logging.
// A missing key is never an error: HGetAll returns an empty map.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	addr   string
}

// NewClient connects and pings; the returned client is ready for use
func NewClient(cfg *configtypes.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// go-redis defaults: DialTimeout 5s, Read/WriteTimeout 3s, PoolSize 10*GOMAXPROCS
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{
		rdb:    rdb,
		logger: logger,
		addr:   cfg.Addr,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis client connected successfully",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	result, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		c.logger.Error("Redis ping failed", zap.String("addr", c.addr), zap.Error(err))
		return err
	}

	if result != "PONG" {
		c.logger.Error("Redis ping returned unexpected response", zap.String("response", result))
		return fmt.Errorf("unexpected ping response: %s", result)
	}

	return nil
}

// HealthCheck pings and reports round-trip latency
func (c *Client) HealthCheck(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return 0, fmt.Errorf("ping failed: %w", err)
	}
	return time.Since(start), nil
}

// HSetWithExpire writes hash fields and sets the key expiry in one round trip
func (c *Client) HSetWithExpire(ctx context.Context, key string, expiration time.Duration, values ...interface{}) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Redis HSET+EXPIRE pipeline failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return fmt.Errorf("redis hset with expire failed: %w", err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("Redis HGETALL failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return result, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("Redis DEL failed",
			zap.Strings("keys", keys),
			zap.Error(err))
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CountKeys counts keys matching pattern using SCAN so the server is never blocked
func (c *Client) CountKeys(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			c.logger.Error("Redis SCAN failed",
				zap.String("pattern", pattern),
				zap.Error(err))
			return 0, fmt.Errorf("redis scan failed: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis client", zap.Error(err))
		return err
	}
	c.logger.Debug("Redis client closed")
	return nil
}
