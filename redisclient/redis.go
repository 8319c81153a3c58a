// Package redisclient constructs the shared go-redis client used by the
// read cache's shared tier and the readiness probe.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgerflow/ledgercore/config"
)

// New creates a *redis.Client from cfg.RedisURL. Returns an error if the
// URL cannot be parsed.
func New(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping verifies connectivity with a bounded timeout, used at startup and
// by the health endpoint.
func Ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}
