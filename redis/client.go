package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects the Redis instance backing the camera store.
type Options struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces every key the gateway writes.
	KeyPrefix string `yaml:"key_prefix"`
}

// Client wraps the Redis client with connection diagnostics
type Client struct {
	*redis.Client
	log *zap.Logger
}

// NewClient creates a new Redis client. It does not dial; call Ping to verify.
func NewClient(o Options, log *zap.Logger) *Client {
	opts := &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}

	client := &Client{
		Client: redis.NewClient(opts),
		log:    log.Named("redis"),
	}

	client.log.Info("redis client initialized",
		zap.String("addr", o.Address),
		zap.Int("db", o.DB),
	)
	return client
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	return c.Client.Close()
}

// Ping bounds the round trip to 500ms and logs connection diagnostics.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	opts := c.Options()
	log := c.log.With(
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("max_retries", opts.MaxRetries),
	)

	start := time.Now()
	err := c.Client.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
		return fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Info("connection established", zap.Duration("ping_rtt", elapsed))
	return nil
}
