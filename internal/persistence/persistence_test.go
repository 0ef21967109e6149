package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/config"
)

func TestPostgresDisabledWithoutDSN(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.ErrorIs(t, pg.Ping(context.Background()), ErrPostgresNotConfigured)
	pg.Close()

	var missing *Postgres
	assert.Nil(t, missing.PoolHandle())
	assert.ErrorIs(t, missing.Ping(context.Background()), ErrPostgresNotConfigured)
}

func TestRedisPing(t *testing.T) {
	srv := miniredis.RunT(t)
	r := NewRedis(config.RedisConfig{Addr: srv.Addr()}, zap.NewNop())
	t.Cleanup(r.Close)
	assert.NoError(t, r.Ping(context.Background()))

	srv.Close()
	assert.Error(t, r.Ping(context.Background()))

	var missing *Redis
	assert.ErrorIs(t, missing.Ping(context.Background()), ErrRedisNotConfigured)
}
