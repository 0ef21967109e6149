package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

type memoryStatusRepository struct {
	mu      sync.RWMutex
	records map[string]domain.TicketResult
}

// NewMemoryTicketStatusRepository keeps status records in process. Records
// never expire.
func NewMemoryTicketStatusRepository() TicketStatusRepository {
	return &memoryStatusRepository{records: make(map[string]domain.TicketResult)}
}

func (r *memoryStatusRepository) Put(_ context.Context, result domain.TicketResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[result.TicketID] = result
	return nil
}

func (r *memoryStatusRepository) Get(_ context.Context, ticketID string) (domain.TicketResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.records[ticketID]
	if !ok {
		return domain.TicketResult{}, ErrNotFound
	}
	return result, nil
}
