// Package scheduler orders classified tickets for dispatch: highest urgency
// first, arrival order among equal urgency.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

var (
	// ErrClosed is returned once the scheduler is shut down and drained.
	ErrClosed = errors.New("scheduler closed")
	// ErrDuplicate is returned when the ticket is already queued.
	ErrDuplicate = errors.New("ticket already queued")
)

type item struct {
	ticket *domain.Ticket
	seq    uint64
	index  int
}

type ticketHeap []*item

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	if h[i].ticket.Urgency != h[j].ticket.Urgency {
		return h[i].ticket.Urgency > h[j].ticket.Urgency
	}
	return h[i].seq < h[j].seq
}

func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *ticketHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Scheduler is a concurrency-safe priority queue with blocking dequeue.
type Scheduler struct {
	mu     sync.Mutex
	heap   ticketHeap
	byID   map[string]*item
	seq    uint64
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		byID:  make(map[string]*item),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue adds a ticket. Its urgency must not change while queued.
func (s *Scheduler) Enqueue(t *domain.Ticket) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.byID[t.ID]; ok {
		s.mu.Unlock()
		return ErrDuplicate
	}
	s.seq++
	it := &item{ticket: t, seq: s.seq}
	heap.Push(&s.heap, it)
	s.byID[t.ID] = it
	s.mu.Unlock()

	s.signal()
	return nil
}

// TryDequeue pops the most urgent ticket without blocking.
func (s *Scheduler) TryDequeue() (*domain.Ticket, bool) {
	s.mu.Lock()
	if len(s.heap) == 0 {
		s.mu.Unlock()
		return nil, false
	}
	it := heap.Pop(&s.heap).(*item)
	delete(s.byID, it.ticket.ID)
	remaining := len(s.heap)
	s.mu.Unlock()

	if remaining > 0 {
		s.signal()
	}
	return it.ticket, true
}

// Dequeue blocks until a ticket is available, ctx is done, or the scheduler is
// closed and empty.
func (s *Scheduler) Dequeue(ctx context.Context) (*domain.Ticket, error) {
	for {
		if t, ok := s.TryDequeue(); ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		case <-s.done:
			if t, ok := s.TryDequeue(); ok {
				return t, nil
			}
			return nil, ErrClosed
		}
	}
}

// Remove withdraws a queued ticket, e.g. when it was absorbed into an
// incident. It reports whether the ticket was still queued.
func (s *Scheduler) Remove(ticketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byID[ticketID]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, it.index)
	delete(s.byID, ticketID)
	return true
}

// Len returns the number of queued tickets.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Close rejects further enqueues and wakes blocked dequeuers once drained.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
