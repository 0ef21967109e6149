// Package lock provides the per-ticket idempotency lock. Exclusivity holds only
// within the TTL: a holder that stalls past it loses the key to the next
// worker, trading strict exclusion for availability.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotOwner is returned by Release when the key expired or now belongs to
// another worker (stale lock expiry).
var ErrNotOwner = errors.New("lock not owned by caller")

// Store is the shared key-value collaborator with atomic conditional set.
type Store interface {
	// SetIfAbsent stores value under key with ttl only when key is missing.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfEquals removes key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// Handle identifies one successful acquisition.
type Handle struct {
	TicketID   string
	Key        string
	Owner      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Locker acquires and releases ticket locks.
type Locker struct {
	store      Store
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewLocker builds a Locker over store.
func NewLocker(store Store, prefix string, defaultTTL time.Duration, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 60 * time.Second
	}
	return &Locker{
		store:      store,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "idempotency_lock")),
	}
}

// Acquire attempts to claim ticketID. acquired=false is not an error: another
// worker already holds the ticket and the caller should skip it. A zero ttl
// uses the default.
func (l *Locker) Acquire(ctx context.Context, ticketID string, ttl time.Duration) (*Handle, bool, error) {
	if ticketID == "" {
		return nil, false, errors.New("ticket id required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	h := &Handle{
		TicketID:   ticketID,
		Key:        l.prefix + ticketID,
		Owner:      uuid.NewString(),
		AcquiredAt: time.Now(),
		TTL:        ttl,
	}
	ok, err := l.store.SetIfAbsent(ctx, h.Key, h.Owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", h.Key, err)
	}
	if !ok {
		l.logger.Debug("lock held elsewhere", zap.String("ticket_id", ticketID))
		return nil, false, nil
	}
	return h, true, nil
}

// Release deletes the key if the caller still owns it.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	ok, err := l.store.DeleteIfEquals(ctx, h.Key, h.Owner)
	if err != nil {
		return fmt.Errorf("release %s: %w", h.Key, err)
	}
	if !ok {
		l.logger.Warn("stale lock expiry: released after ttl",
			zap.String("ticket_id", h.TicketID),
			zap.Duration("held", time.Since(h.AcquiredAt)),
			zap.Duration("ttl", h.TTL))
		return ErrNotOwner
	}
	return nil
}
