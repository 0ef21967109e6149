// Package assignment picks the best available agent for a classified ticket
// and owns the live agent load counters.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

var (
	// ErrNoEligibleAgent means no active agent with spare capacity has a
	// nonzero skill for the category.
	ErrNoEligibleAgent = errors.New("no eligible agent")
	// ErrAgentNotFound is returned for operations on unknown agent ids.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidAgent is returned when an agent record fails validation.
	ErrInvalidAgent = errors.New("invalid agent")
)

// Directory persists agent records. The engine keeps the authoritative live
// counters in memory and writes changes through on a best-effort basis for
// load adjustments.
type Directory interface {
	Upsert(ctx context.Context, agent domain.Agent) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	AdjustLoad(ctx context.Context, id string, delta int) error
}

// Config tunes selection.
type Config struct {
	Epsilon     float64
	HistorySize int
	Now         func() time.Time
}

// Engine assigns tickets. Eligibility scoring runs under a shared lock; the
// load increment re-checks capacity under the exclusive lock.
type Engine struct {
	epsilon   float64
	directory Directory
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	agents  map[string]*domain.Agent
	history *history
}

// NewEngine builds an empty engine. directory may be nil.
func NewEngine(cfg Config, directory Directory, logger *zap.Logger) *Engine {
	if cfg.Epsilon < 0 {
		cfg.Epsilon = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		epsilon:   cfg.Epsilon,
		directory: directory,
		logger:    logger.With(zap.String("component", "assignment")),
		now:       cfg.Now,
		agents:    make(map[string]*domain.Agent),
		history:   newHistory(cfg.HistorySize),
	}
}

// Seed loads agents without writing them to the directory.
func (e *Engine) Seed(agents []domain.Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range agents {
		if err := validate(a); err != nil {
			return err
		}
		clone := a.Clone()
		e.agents[a.ID] = &clone
	}
	return nil
}

// Assign selects an agent for the ticket and increments its load.
func (e *Engine) Assign(ctx context.Context, ticketID string, category domain.Category) (domain.RoutingDecision, error) {
	e.mu.RLock()
	candidate, snapshotLoad, _ := e.selectLocked(category)
	e.mu.RUnlock()

	e.mu.Lock()
	chosen, ok := e.confirmLocked(candidate, snapshotLoad, category)
	if !ok {
		chosen, _, ok = e.selectLocked(category)
	}
	now := e.now()
	decision := domain.RoutingDecision{
		TicketID: ticketID,
		Category: category,
		RoutedAt: now,
	}
	if !ok {
		decision.Reason = fmt.Sprintf("no available agent with skills for %q", category)
		e.history.add(decision)
		e.mu.Unlock()
		e.logger.Warn("NoEligibleAgent", zap.String("ticket_id", ticketID), zap.String("category", string(category)))
		return decision, fmt.Errorf("%w for category %q", ErrNoEligibleAgent, category)
	}

	chosen.CurrentLoad++
	chosen.TotalHandled++
	chosen.LastAssigned = now
	chosen.UpdatedAt = now
	decision.AgentID = chosen.ID
	decision.AgentName = chosen.Name
	decision.Score = chosen.Skill(category)
	decision.Reason = fmt.Sprintf("skill_match=%.3f, load=%d/%d", decision.Score, chosen.CurrentLoad, chosen.MaxCapacity)
	e.history.add(decision)
	e.mu.Unlock()

	e.writeLoad(ctx, decision.AgentID, 1)
	e.logger.Debug("ticket assigned",
		zap.String("ticket_id", ticketID),
		zap.String("agent_id", decision.AgentID),
		zap.Float64("score", decision.Score))
	return decision, nil
}

// selectLocked applies eligibility then picks max skill, lowest load within
// epsilon of the best, lowest id.
func (e *Engine) selectLocked(category domain.Category) (*domain.Agent, int, bool) {
	eligible := make([]*domain.Agent, 0, len(e.agents))
	best := 0.0
	for _, a := range e.agents {
		if !a.Eligible(category) {
			continue
		}
		eligible = append(eligible, a)
		if s := a.Skill(category); s > best {
			best = s
		}
	}
	if len(eligible) == 0 {
		return nil, 0, false
	}

	var chosen *domain.Agent
	for _, a := range eligible {
		// 1e-9 absorbs float noise such as 0.81-0.80 > 0.01.
		if best-a.Skill(category) > e.epsilon+1e-9 {
			continue
		}
		if chosen == nil ||
			a.CurrentLoad < chosen.CurrentLoad ||
			(a.CurrentLoad == chosen.CurrentLoad && a.ID < chosen.ID) {
			chosen = a
		}
	}
	return chosen, chosen.CurrentLoad, true
}

// confirmLocked accepts the optimistic pick only if nothing moved since the
// shared-lock read.
func (e *Engine) confirmLocked(candidate *domain.Agent, load int, category domain.Category) (*domain.Agent, bool) {
	if candidate == nil {
		return nil, false
	}
	live, ok := e.agents[candidate.ID]
	if !ok || live != candidate || live.CurrentLoad != load || !live.Eligible(category) {
		return nil, false
	}
	return live, true
}

// Release frees one slot on the agent. It reports false when the agent had
// no load.
func (e *Engine) Release(ctx context.Context, agentID string) (bool, error) {
	e.mu.Lock()
	a, ok := e.agents[agentID]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if a.CurrentLoad == 0 {
		e.mu.Unlock()
		return false, nil
	}
	a.CurrentLoad--
	a.UpdatedAt = e.now()
	e.mu.Unlock()

	e.writeLoad(ctx, agentID, -1)
	return true, nil
}

// Register adds or replaces an agent. Live load counters of an existing agent
// are preserved.
func (e *Engine) Register(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	if err := validate(agent); err != nil {
		return domain.Agent{}, err
	}
	now := e.now()

	e.mu.Lock()
	next := agent.Clone()
	if existing, ok := e.agents[agent.ID]; ok {
		next.CurrentLoad = existing.CurrentLoad
		next.TotalHandled = existing.TotalHandled
		next.LastAssigned = existing.LastAssigned
		next.CreatedAt = existing.CreatedAt
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	e.mu.Unlock()

	if e.directory != nil {
		if err := e.directory.Upsert(ctx, next); err != nil {
			return domain.Agent{}, fmt.Errorf("persist agent: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	live, ok := e.agents[next.ID]
	if !ok {
		e.agents[next.ID] = &next
		return next.Clone(), nil
	}
	// Assignments may have landed while the directory write was in flight;
	// only descriptive fields are copied onto the live record.
	live.Name = next.Name
	live.Skills = next.Skills
	live.MaxCapacity = next.MaxCapacity
	live.Active = next.Active
	live.UpdatedAt = next.UpdatedAt
	return live.Clone(), nil
}

// Deregister removes an agent.
func (e *Engine) Deregister(ctx context.Context, agentID string) error {
	e.mu.RLock()
	_, ok := e.agents[agentID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if e.directory != nil {
		if err := e.directory.Delete(ctx, agentID); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
	}
	e.mu.Lock()
	delete(e.agents, agentID)
	e.mu.Unlock()
	return nil
}

// SetActive toggles the active flag.
func (e *Engine) SetActive(ctx context.Context, agentID string, active bool) (domain.Agent, error) {
	e.mu.RLock()
	_, ok := e.agents[agentID]
	e.mu.RUnlock()
	if !ok {
		return domain.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if e.directory != nil {
		if err := e.directory.SetActive(ctx, agentID, active); err != nil {
			return domain.Agent{}, fmt.Errorf("update agent: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return domain.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	a.Active = active
	a.UpdatedAt = e.now()
	return a.Clone(), nil
}

// Agent returns a copy of one agent.
func (e *Engine) Agent(agentID string) (domain.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[agentID]
	if !ok {
		return domain.Agent{}, false
	}
	return a.Clone(), true
}

// Agents returns copies of every agent ordered by id.
func (e *Engine) Agents() []domain.Agent {
	e.mu.RLock()
	out := make([]domain.Agent, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, a.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises the routing history.
func (e *Engine) Stats() RoutingStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.stats()
}

// Recent returns the last n decisions, oldest first.
func (e *Engine) Recent(n int) []domain.RoutingDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.recent(n)
}

func (e *Engine) writeLoad(ctx context.Context, agentID string, delta int) {
	if e.directory == nil {
		return
	}
	if err := e.directory.AdjustLoad(ctx, agentID, delta); err != nil {
		e.logger.Warn("agent load write-back failed",
			zap.String("agent_id", agentID),
			zap.Int("delta", delta),
			zap.Error(err))
	}
}

func validate(a domain.Agent) error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidAgent)
	case a.MaxCapacity <= 0:
		return fmt.Errorf("%w: max capacity must be positive", ErrInvalidAgent)
	case a.CurrentLoad < 0:
		return fmt.Errorf("%w: current load must not be negative", ErrInvalidAgent)
	}
	for category, skill := range a.Skills {
		if skill < 0 {
			return fmt.Errorf("%w: skill for %s must not be negative", ErrInvalidAgent, category)
		}
	}
	return nil
}
