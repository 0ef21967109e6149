package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/config"
)

const redisStartupPing = 2 * time.Second

// ErrRedisNotConfigured is returned by Ping on a nil handle.
var ErrRedisNotConfigured = errors.New("redis client not configured")

// Redis holds the client shared by the ticket lock store and the status
// repository.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the client and checks reachability once. An unreachable
// server is logged, not fatal: lock acquisition will surface the error per
// ticket and leave it pending.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisStartupPing)
	defer cancel()
	fields := []zap.Field{zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB)}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup", append(fields, zap.Error(err))...)
	} else {
		logger.Info("redis ready for locks and statuses", fields...)
	}
	return &Redis{Client: client}
}

func (r *Redis) Close() {
	if r == nil || r.Client == nil {
		return
	}
	_ = r.Client.Close()
}

// Ping backs GET /health/ready.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrRedisNotConfigured
	}
	return r.Client.Ping(ctx).Err()
}
