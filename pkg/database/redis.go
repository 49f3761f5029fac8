package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/retry"
)

// NewRedisClient creates a new Redis client with the given configuration.
// Returns nil if Redis is not configured (host is empty); callers then use
// the in-process stores.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		pingErr := client.Ping(ctx).Err()
		if pingErr != nil {
			logger.Warn("Redis not reachable yet",
				zap.String("addr", cfg.Addr()),
				zap.String("error", logging.SanitizeError(pingErr)))
		}
		return pingErr
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
