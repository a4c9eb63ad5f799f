package redis

import (
	"context"
	"testing"
	"time"

	"misp-controlplane/pkg/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	var cfg config.Config
	cfg.Redis.Addr = "cache:6379"
	cfg.Redis.DB = 2
	cfg.Redis.PoolSize = 7

	opts := Options(&cfg)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 7, opts.PoolSize)
}

func TestPing_GivesUpAfterAttempts(t *testing.T) {
	// Port 1 is never a redis server.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	err := Ping(context.Background(), rdb, 2, time.Millisecond)
	require.ErrorContains(t, err, "after 2 attempts")
}
