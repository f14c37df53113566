package redis

import (
	"context"
	"fmt"

	"github.com/ful2win/backend/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect builds the shared Redis client for the queue and realtime bus.
// A zero RedisPoolSize keeps the go-redis default.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.RedisPoolSize > 0 {
		opt.PoolSize = cfg.RedisPoolSize
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", opt.Addr), zap.Int("db", opt.DB))
	return client, nil
}
