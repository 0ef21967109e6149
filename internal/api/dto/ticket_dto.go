package dto

import (
	"time"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// SubmitTicketRequest payload for POST /tickets.
type SubmitTicketRequest struct {
	TicketID string `json:"ticket_id"`
	Text     string `json:"text"`
}

// SubmitTicketResponse acknowledges an accepted ticket.
type SubmitTicketResponse struct {
	Status   string `json:"status"`
	TicketID string `json:"ticket_id"`
}

// IncidentResponse renders a master incident.
type IncidentResponse struct {
	ID               string          `json:"id"`
	Category         domain.Category `json:"category"`
	MemberIDs        []string        `json:"member_ids"`
	MemberCount      int             `json:"member_count"`
	SuppressedAlerts int             `json:"suppressed_alerts"`
	Closed           bool            `json:"closed"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivity     time.Time       `json:"last_activity"`
}

// NewIncidentResponse maps a domain incident.
func NewIncidentResponse(inc domain.MasterIncident) IncidentResponse {
	members := inc.MemberIDs
	if members == nil {
		members = []string{}
	}
	return IncidentResponse{
		ID:               inc.ID,
		Category:         inc.Category,
		MemberIDs:        members,
		MemberCount:      len(members),
		SuppressedAlerts: inc.SuppressedAlerts,
		Closed:           inc.Closed,
		CreatedAt:        inc.CreatedAt,
		LastActivity:     inc.LastActivity,
	}
}
