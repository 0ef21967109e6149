package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

func TestTicketStatusRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewTicketStatusRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("should report unknown tickets as not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should store and overwrite the latest record", func(t *testing.T) {
		updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Put(ctx, domain.TicketResult{TicketID: "t-1", Status: domain.TicketStatusPending, UpdatedAt: updated}))
		require.NoError(t, repo.Put(ctx, domain.TicketResult{
			TicketID:     "t-1",
			Status:       domain.TicketStatusAssigned,
			Category:     domain.CategoryBilling,
			UrgencyScore: 0.42,
			ModelUsed:    domain.ModelFallback,
			AgentID:      "agent-002",
			UpdatedAt:    updated,
		}))

		got, err := repo.Get(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusAssigned, got.Status)
		assert.Equal(t, domain.CategoryBilling, got.Category)
		assert.Equal(t, "agent-002", got.AgentID)
		assert.True(t, updated.Equal(got.UpdatedAt))
		assert.True(t, mr.Exists("result:t-1"))
	})

	t.Run("should expire records after the ttl", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, domain.TicketResult{TicketID: "t-2", Status: domain.TicketStatusPending}))
		mr.FastForward(time.Hour + time.Second)
		_, err := repo.Get(ctx, "t-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
