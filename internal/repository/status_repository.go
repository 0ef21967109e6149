package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// TicketStatusRepository stores the latest status record per ticket.
type TicketStatusRepository interface {
	Put(ctx context.Context, result domain.TicketResult) error
	Get(ctx context.Context, ticketID string) (domain.TicketResult, error)
}

type redisStatusRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewTicketStatusRepository stores records under result:{id} with ttl.
func NewTicketStatusRepository(client redis.UniversalClient, ttl time.Duration) TicketStatusRepository {
	return &redisStatusRepository{client: client, ttl: ttl}
}

func statusKey(ticketID string) string {
	return "result:" + ticketID
}

func (r *redisStatusRepository) Put(ctx context.Context, result domain.TicketResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return r.client.Set(ctx, statusKey(result.TicketID), payload, r.ttl).Err()
}

func (r *redisStatusRepository) Get(ctx context.Context, ticketID string) (domain.TicketResult, error) {
	payload, err := r.client.Get(ctx, statusKey(ticketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TicketResult{}, ErrNotFound
	}
	if err != nil {
		return domain.TicketResult{}, err
	}
	var result domain.TicketResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.TicketResult{}, fmt.Errorf("decode status: %w", err)
	}
	return result, nil
}
