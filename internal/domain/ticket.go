package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a ticket status would move backwards.
var ErrInvalidTransition = errors.New("invalid ticket status transition")

// TicketStatus enumerates pipeline states for tickets.
type TicketStatus string

const (
	TicketStatusPending      TicketStatus = "PENDING"
	TicketStatusLocked       TicketStatus = "LOCKED"
	TicketStatusClassified   TicketStatus = "CLASSIFIED"
	TicketStatusDeduplicated TicketStatus = "DEDUPLICATED"
	TicketStatusAssigned     TicketStatus = "ASSIGNED"
	TicketStatusFailed       TicketStatus = "FAILED"
)

var statusRank = map[TicketStatus]int{
	TicketStatusPending:      0,
	TicketStatusLocked:       1,
	TicketStatusClassified:   2,
	TicketStatusDeduplicated: 3,
	TicketStatusAssigned:     4,
}

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusAssigned || s == TicketStatusFailed
}

// CanTransitionTo allows forward moves only; Failed is reachable from any
// non-terminal state.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TicketStatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Ticket is a single support request moving through the pipeline.
type Ticket struct {
	ID          string
	Text        string
	ArrivalTime time.Time
	Category    *Category
	Urgency     float64
	Embedding   []float64
	ModelUsed   ModelSource
	Status      TicketStatus
	IncidentID  string
	AgentID     string
	FailReason  string
	UpdatedAt   time.Time
}

// NewTicket builds a pending ticket.
func NewTicket(id, text string, arrival time.Time) *Ticket {
	return &Ticket{
		ID:          id,
		Text:        text,
		ArrivalTime: arrival,
		Status:      TicketStatusPending,
		UpdatedAt:   arrival,
	}
}

// Advance moves the ticket to next, refusing regressions.
func (t *Ticket) Advance(next TicketStatus, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = at
	return nil
}

// ApplyClassification copies classifier output onto the ticket.
func (t *Ticket) ApplyClassification(c Classification) {
	category := c.Category
	t.Category = &category
	t.Urgency = c.Urgency
	t.Embedding = c.Embedding
	t.ModelUsed = c.Source
}

// CategoryOrEmpty returns the category or "" when unclassified.
func (t *Ticket) CategoryOrEmpty() Category {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

// Result projects the ticket into its status record.
func (t *Ticket) Result() TicketResult {
	return TicketResult{
		TicketID:     t.ID,
		Status:       t.Status,
		Category:     t.CategoryOrEmpty(),
		UrgencyScore: t.Urgency,
		ModelUsed:    t.ModelUsed,
		IncidentID:   t.IncidentID,
		AgentID:      t.AgentID,
		Error:        t.FailReason,
		UpdatedAt:    t.UpdatedAt,
	}
}

// TicketResult is what the status lookup returns.
type TicketResult struct {
	TicketID     string       `json:"ticket_id"`
	Status       TicketStatus `json:"status"`
	Category     Category     `json:"category,omitempty"`
	UrgencyScore float64      `json:"urgency_score"`
	ModelUsed    ModelSource  `json:"model_used,omitempty"`
	IncidentID   string       `json:"incident_id,omitempty"`
	AgentID      string       `json:"agent_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
