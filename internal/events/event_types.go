package events

import (
	"time"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketAccepted      EventType = "ticket_accepted"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketUrgent        EventType = "ticket_urgent"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketFailed        EventType = "ticket_failed"
	EventIncidentCreated     EventType = "incident_created"
	EventBreakerStateChanged EventType = "breaker_state_changed"
)

// AllEventTypes lists every type a forwarder should subscribe to.
var AllEventTypes = []EventType{
	EventTicketAccepted,
	EventTicketStatusChanged,
	EventTicketUrgent,
	EventTicketAssigned,
	EventTicketFailed,
	EventIncidentCreated,
	EventBreakerStateChanged,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	TicketID   string      `json:"ticket_id,omitempty"`
	IncidentID string      `json:"incident_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// Key is the partitioning key: the ticket, else the incident, else the type.
func (e Event) Key() string {
	switch {
	case e.TicketID != "":
		return e.TicketID
	case e.IncidentID != "":
		return e.IncidentID
	default:
		return string(e.Type)
	}
}

// TicketAcceptedPayload payload.
type TicketAcceptedPayload struct {
	TextPreview string `json:"text_preview"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Reason    string              `json:"reason,omitempty"`
}

// TicketUrgentPayload payload.
type TicketUrgentPayload struct {
	Category    domain.Category    `json:"category"`
	Urgency     float64            `json:"urgency_score"`
	ModelUsed   domain.ModelSource `json:"model_used"`
	TextPreview string             `json:"text_preview"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AgentID   string          `json:"agent_id"`
	AgentName string          `json:"agent_name"`
	Category  domain.Category `json:"category"`
	Score     float64         `json:"score"`
}

// TicketFailedPayload payload.
type TicketFailedPayload struct {
	Category domain.Category `json:"category,omitempty"`
	Reason   string          `json:"reason"`
}

// IncidentCreatedPayload payload.
type IncidentCreatedPayload struct {
	Category         domain.Category `json:"category"`
	MemberIDs        []string        `json:"member_ids"`
	SuppressedAlerts int             `json:"suppressed_alerts"`
	SampleText       string          `json:"sample_text,omitempty"`
}

// BreakerStateChangedPayload payload.
type BreakerStateChangedPayload struct {
	Name     string `json:"name"`
	From     string `json:"from"`
	To       string `json:"to"`
	Failures int    `json:"failures"`
}
