package database

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

const (
	RedisDialTimeout  = 5 * time.Second
	RedisMaxRetries   = 3
	RedisPoolSizeBase = 16
)

// NewRedisClient connects to the presence store. A pool_size given in the URL
// is kept. Every open presence stream holds one extra connection for its
// subscription.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = RedisPoolSizeBase
	}
	opts.DialTimeout = RedisDialTimeout
	opts.MaxRetries = RedisMaxRetries

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}

	glog.Infof("[db]redis client connected to %s db=%d pool=%d\n", opts.Addr, opts.DB, opts.PoolSize)

	return client, nil
}
