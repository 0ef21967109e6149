package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/assignment"
	"github.com/spec-kit/ticket-orchestrator/internal/classifier"
	"github.com/spec-kit/ticket-orchestrator/internal/dedup"
	"github.com/spec-kit/ticket-orchestrator/internal/domain"
	"github.com/spec-kit/ticket-orchestrator/internal/events"
	"github.com/spec-kit/ticket-orchestrator/internal/lock"
	"github.com/spec-kit/ticket-orchestrator/internal/observability"
	"github.com/spec-kit/ticket-orchestrator/internal/repository"
	"github.com/spec-kit/ticket-orchestrator/internal/scheduler"
)

var (
	// ErrInvalidTicket is returned by Submit for empty ids or bodies.
	ErrInvalidTicket = errors.New("invalid ticket")
	// ErrIntakeClosed is returned by Submit after Close.
	ErrIntakeClosed = errors.New("intake closed")
	// ErrTicketNotFound is returned by Status for unknown tickets.
	ErrTicketNotFound = errors.New("ticket not found")
)

const maxTicketBytes = 64 * 1024

// OrchestratorConfig tunes the pipeline.
type OrchestratorConfig struct {
	UrgencyThreshold float64
	LockTTL          time.Duration
	IntakeBuffer     int
	Now              func() time.Time
}

// OrchestratorDependencies bundles the pipeline collaborators. Statuses
// defaults to an in-process store; Tickets, Incidents, Dispatcher and Metrics
// may be nil.
type OrchestratorDependencies struct {
	Classifier classifier.Classifier
	Locker     *lock.Locker
	Dedup      *dedup.Engine
	Scheduler  *scheduler.Scheduler
	Assigner   *assignment.Engine
	Statuses   repository.TicketStatusRepository
	Tickets    repository.TicketRepository
	Incidents  repository.IncidentRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
}

type inflight struct {
	ticket *domain.Ticket
	handle *lock.Handle
}

// Orchestrator runs tickets through lock, classification, deduplication,
// scheduling and assignment.
type Orchestrator struct {
	cfg        OrchestratorConfig
	classifier classifier.Classifier
	locker     *lock.Locker
	dedup      *dedup.Engine
	scheduler  *scheduler.Scheduler
	assigner   *assignment.Engine
	statuses   repository.TicketStatusRepository
	tickets    repository.TicketRepository
	incidents  repository.IncidentRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger

	intakeMu sync.RWMutex
	intake   chan *domain.Ticket
	closed   bool

	mu      sync.Mutex
	pending map[string]inflight
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDependencies, logger *zap.Logger) *Orchestrator {
	if cfg.UrgencyThreshold <= 0 {
		cfg.UrgencyThreshold = 0.8
	}
	if cfg.IntakeBuffer <= 0 {
		cfg.IntakeBuffer = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Statuses == nil {
		deps.Statuses = repository.NewMemoryTicketStatusRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		classifier: deps.Classifier,
		locker:     deps.Locker,
		dedup:      deps.Dedup,
		scheduler:  deps.Scheduler,
		assigner:   deps.Assigner,
		statuses:   deps.Statuses,
		tickets:    deps.Tickets,
		incidents:  deps.Incidents,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("component", "orchestrator")),
		intake:     make(chan *domain.Ticket, cfg.IntakeBuffer),
		pending:    make(map[string]inflight),
	}
}

// Submit accepts a ticket for asynchronous processing.
func (o *Orchestrator) Submit(ctx context.Context, ticketID, text string) (domain.TicketResult, error) {
	ticketID = strings.TrimSpace(ticketID)
	switch {
	case ticketID == "":
		return domain.TicketResult{}, fmt.Errorf("%w: ticket id is required", ErrInvalidTicket)
	case strings.TrimSpace(text) == "":
		return domain.TicketResult{}, fmt.Errorf("%w: text is required", ErrInvalidTicket)
	case len(text) > maxTicketBytes:
		return domain.TicketResult{}, fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidTicket, maxTicketBytes)
	}

	ticket := domain.NewTicket(ticketID, text, o.cfg.Now())

	o.intakeMu.RLock()
	defer o.intakeMu.RUnlock()
	if o.closed {
		return domain.TicketResult{}, ErrIntakeClosed
	}

	if !o.inFlight(ctx, ticketID) {
		o.saveStatus(ctx, ticket)
	}

	select {
	case o.intake <- ticket:
	case <-ctx.Done():
		return domain.TicketResult{}, ctx.Err()
	}

	o.metrics.Inc(observability.CounterTicketsAccepted)
	o.publish(ctx, events.Event{
		Type:     events.EventTicketAccepted,
		TicketID: ticketID,
		Payload:  events.TicketAcceptedPayload{TextPreview: preview(text)},
	})
	return ticket.Result(), nil
}

// Intake is drained by processor workers.
func (o *Orchestrator) Intake() <-chan *domain.Ticket {
	return o.intake
}

// Close stops accepting tickets. Tickets already accepted stay in the intake
// for processors to drain.
func (o *Orchestrator) Close() {
	o.intakeMu.Lock()
	defer o.intakeMu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.intake)
}

// SealQueue closes the scheduler once no processor can enqueue any more.
func (o *Orchestrator) SealQueue() {
	o.scheduler.Close()
}

// Process runs one ticket up to the point where it is either grouped into an
// incident or waiting in the scheduler for assignment.
func (o *Orchestrator) Process(ctx context.Context, t *domain.Ticket) error {
	handle, acquired, err := o.locker.Acquire(ctx, t.ID, o.cfg.LockTTL)
	if err != nil {
		o.logger.Warn("lock unavailable; ticket left pending", zap.String("ticket_id", t.ID), zap.Error(err))
		return fmt.Errorf("acquire lock for %s: %w", t.ID, err)
	}
	if !acquired {
		o.metrics.Inc(observability.CounterTicketsDuplicate)
		o.logger.Info("duplicate submission skipped", zap.String("ticket_id", t.ID))
		return nil
	}

	if err := o.advance(ctx, t, domain.TicketStatusLocked, ""); err != nil {
		o.release(ctx, handle)
		return err
	}

	result, err := o.classifier.Classify(ctx, t.Text)
	if err != nil {
		// Failed is reserved for routing; the ticket stays Locked and can be
		// resubmitted once the lock is gone.
		o.release(ctx, handle)
		o.logger.Warn("classification aborted", zap.String("ticket_id", t.ID), zap.Error(err))
		return fmt.Errorf("classify %s: %w", t.ID, err)
	}
	t.ApplyClassification(result)
	if err := o.advance(ctx, t, domain.TicketStatusClassified, string(result.Source)); err != nil {
		o.release(ctx, handle)
		return err
	}

	grouping, err := o.dedup.Register(t)
	if err != nil {
		return o.fail(ctx, t, handle, fmt.Sprintf("deduplication failed: %v", err))
	}
	if grouping.Grouped {
		o.group(ctx, t, handle, grouping.IncidentID)
		if grouping.Promoted {
			o.promote(ctx, t, grouping)
		} else {
			o.persistIncident(ctx, grouping.IncidentID)
		}
		return nil
	}

	o.mu.Lock()
	if incidentID, ok := o.dedup.IncidentFor(t.ID); ok {
		// Promoted by a concurrent registration before we reached the queue.
		o.mu.Unlock()
		o.group(ctx, t, handle, incidentID)
		return nil
	}
	o.pending[t.ID] = inflight{ticket: t, handle: handle}
	err = o.scheduler.Enqueue(t)
	if err != nil {
		delete(o.pending, t.ID)
	}
	o.mu.Unlock()
	if err != nil {
		return o.fail(ctx, t, handle, fmt.Sprintf("schedule failed: %v", err))
	}
	return nil
}

// DispatchNext assigns the most urgent scheduled ticket. It blocks until one
// is available and returns scheduler.ErrClosed once the queue is sealed and
// empty.
func (o *Orchestrator) DispatchNext(ctx context.Context) error {
	t, err := o.scheduler.Dequeue(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	entry, ok := o.pending[t.ID]
	delete(o.pending, t.ID)
	o.mu.Unlock()
	var handle *lock.Handle
	if ok {
		handle = entry.handle
	}

	if t.Urgency > o.cfg.UrgencyThreshold {
		o.metrics.Inc(observability.CounterUrgentAlerts)
		o.publish(ctx, events.Event{
			Type:     events.EventTicketUrgent,
			TicketID: t.ID,
			Payload: events.TicketUrgentPayload{
				Category:    t.CategoryOrEmpty(),
				Urgency:     t.Urgency,
				ModelUsed:   t.ModelUsed,
				TextPreview: preview(t.Text),
			},
		})
	}

	decision, err := o.assigner.Assign(ctx, t.ID, t.CategoryOrEmpty())
	if err != nil {
		return o.fail(ctx, t, handle, err.Error())
	}

	t.AgentID = decision.AgentID
	if err := o.advance(ctx, t, domain.TicketStatusAssigned, decision.Reason); err != nil {
		o.release(ctx, handle)
		return err
	}
	o.metrics.Inc(observability.CounterTicketsAssigned)
	o.publish(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: t.ID,
		Payload: events.TicketAssignedPayload{
			AgentID:   decision.AgentID,
			AgentName: decision.AgentName,
			Category:  decision.Category,
			Score:     decision.Score,
		},
	})
	o.archive(ctx, t)
	o.release(ctx, handle)
	return nil
}

// Status returns the latest record for a ticket, falling back to the archive
// once the status record has expired.
func (o *Orchestrator) Status(ctx context.Context, ticketID string) (domain.TicketResult, error) {
	result, err := o.statuses.Get(ctx, ticketID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.TicketResult{}, err
	}
	if o.tickets != nil {
		archived, aerr := o.tickets.GetByID(ctx, ticketID)
		if aerr == nil {
			return archived.Result(), nil
		}
		if !errors.Is(aerr, repository.ErrNotFound) {
			return domain.TicketResult{}, aerr
		}
	}
	return domain.TicketResult{}, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketID)
}

// QueueDepth reports scheduled tickets awaiting assignment.
func (o *Orchestrator) QueueDepth() int {
	return o.scheduler.Len()
}

// group marks t as a member of incidentID and ends its individual lifecycle.
func (o *Orchestrator) group(ctx context.Context, t *domain.Ticket, handle *lock.Handle, incidentID string) {
	t.IncidentID = incidentID
	if err := o.advance(ctx, t, domain.TicketStatusDeduplicated, "incident "+incidentID); err != nil {
		o.logger.Error("deduplicate transition failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	o.metrics.Inc(observability.CounterTicketsGrouped)
	o.archive(ctx, t)
	o.release(ctx, handle)
}

// promote pulls every other member of a newly created incident out of the
// scheduler and raises a single incident alert.
func (o *Orchestrator) promote(ctx context.Context, trigger *domain.Ticket, grouping dedup.Result) {
	for _, id := range grouping.Absorbed {
		if id == trigger.ID {
			continue
		}
		o.mu.Lock()
		entry, ok := o.pending[id]
		if ok && o.scheduler.Remove(id) {
			delete(o.pending, id)
		} else {
			ok = false
		}
		o.mu.Unlock()
		if !ok {
			continue
		}
		o.group(ctx, entry.ticket, entry.handle, grouping.IncidentID)
	}

	incident, found := o.dedup.Incident(grouping.IncidentID)
	if !found {
		return
	}
	o.metrics.Inc(observability.CounterIncidentsCreated)
	o.logger.Warn("master incident created",
		zap.String("incident_id", incident.ID),
		zap.String("category", string(incident.Category)),
		zap.Int("members", len(incident.MemberIDs)))
	o.saveIncident(ctx, incident)
	o.publish(ctx, events.Event{
		Type:       events.EventIncidentCreated,
		IncidentID: incident.ID,
		Payload: events.IncidentCreatedPayload{
			Category:         incident.Category,
			MemberIDs:        incident.MemberIDs,
			SuppressedAlerts: incident.SuppressedAlerts,
			SampleText:       preview(trigger.Text),
		},
	})
}

func (o *Orchestrator) persistIncident(ctx context.Context, incidentID string) {
	if o.incidents == nil {
		return
	}
	if incident, ok := o.dedup.Incident(incidentID); ok {
		o.saveIncident(ctx, incident)
	}
}

func (o *Orchestrator) saveIncident(ctx context.Context, incident domain.MasterIncident) {
	if o.incidents == nil {
		return
	}
	if err := o.incidents.Save(ctx, incident); err != nil {
		o.logger.Warn("incident archive failed", zap.String("incident_id", incident.ID), zap.Error(err))
	}
}

// inFlight reports whether a live copy of ticketID is between intake and a
// settled status, in which case a resubmission must not reset its record.
func (o *Orchestrator) inFlight(ctx context.Context, ticketID string) bool {
	o.mu.Lock()
	_, queued := o.pending[ticketID]
	o.mu.Unlock()
	if queued {
		return true
	}
	current, err := o.statuses.Get(ctx, ticketID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			o.logger.Warn("status read failed", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		return false
	}
	return !current.Status.Terminal() && current.Status != domain.TicketStatusDeduplicated
}

func (o *Orchestrator) fail(ctx context.Context, t *domain.Ticket, handle *lock.Handle, reason string) error {
	t.FailReason = reason
	if err := o.advance(ctx, t, domain.TicketStatusFailed, reason); err != nil {
		o.logger.Error("fail transition rejected", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	o.metrics.Inc(observability.CounterTicketsFailed)
	o.publish(ctx, events.Event{
		Type:     events.EventTicketFailed,
		TicketID: t.ID,
		Payload:  events.TicketFailedPayload{Category: t.CategoryOrEmpty(), Reason: reason},
	})
	o.archive(ctx, t)
	o.release(ctx, handle)
	return fmt.Errorf("ticket %s failed: %s", t.ID, reason)
}

func (o *Orchestrator) advance(ctx context.Context, t *domain.Ticket, next domain.TicketStatus, reason string) error {
	prev := t.Status
	if err := t.Advance(next, o.cfg.Now()); err != nil {
		return err
	}
	o.saveStatus(ctx, t)
	o.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: t.ID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: prev,
			NewStatus: next,
			Reason:    reason,
		},
	})
	return nil
}

func (o *Orchestrator) saveStatus(ctx context.Context, t *domain.Ticket) {
	if err := o.statuses.Put(ctx, t.Result()); err != nil {
		o.logger.Warn("status write failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (o *Orchestrator) archive(ctx context.Context, t *domain.Ticket) {
	if o.tickets == nil {
		return
	}
	if err := o.tickets.Archive(ctx, t); err != nil {
		o.logger.Warn("ticket archive failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (o *Orchestrator) release(ctx context.Context, handle *lock.Handle) {
	if handle == nil {
		return
	}
	err := o.locker.Release(context.WithoutCancel(ctx), handle)
	if errors.Is(err, lock.ErrNotOwner) {
		o.metrics.Inc(observability.CounterStaleLocks)
		return
	}
	if err != nil {
		o.logger.Warn("lock release failed", zap.String("ticket_id", handle.TicketID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = o.cfg.Now()
	_ = o.dispatcher.Publish(ctx, event)
}

func preview(text string) string {
	const limit = 140
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "…"
}
