package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jainabhi1607/loanease/internal/config"
)

// NewRedis connects to the Redis instance holding portal sessions and the
// shared rate limit counters. Like MariaDB it may still be booting when the
// app starts, so the first ping goes through the same retry loop.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := waitForPing("redis", maxPingAttempts, time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
