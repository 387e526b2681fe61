package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/configtypes"
)

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config *configtypes.RedisConfig
}

func NewClient(cfg *configtypes.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// go-redis defaults: DialTimeout 5s, ReadTimeout/WriteTimeout 3s,
	// PoolSize 10 * GOMAXPROCS.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{
		rdb:    rdb,
		logger: logger,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
		c.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}

	if result != "PONG" {
		err := fmt.Errorf("unexpected ping response: %s", result)
		c.logger.Error("Redis ping returned unexpected response", zap.String("response", result))
		return err
	}

	return nil
}

func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) error {
	err := c.rdb.HSet(ctx, key, values...).Err()
	if err != nil {
		c.logger.Error("Redis HSET failed",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// HDel deletes one or more hash fields
func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}

	err := c.rdb.HDel(ctx, key, fields...).Err()
	if err != nil {
		c.logger.Error("Redis HDEL failed",
			zap.String("key", key),
			zap.Strings("fields", fields),
			zap.Error(err))
		return fmt.Errorf("redis hdel failed: %w", err)
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

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
