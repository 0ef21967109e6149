package dto

import (
	"time"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// UpsertAgentRequest payload for POST /agents.
type UpsertAgentRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Skills      map[string]float64 `json:"skills"`
	MaxCapacity int                `json:"max_capacity"`
	Active      *bool              `json:"active"`
}

// ToDomain converts the request. Active defaults to true.
func (r UpsertAgentRequest) ToDomain() domain.Agent {
	skills := make(map[domain.Category]float64, len(r.Skills))
	for k, v := range r.Skills {
		skills[domain.Category(k)] = v
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return domain.Agent{
		ID:          r.ID,
		Name:        r.Name,
		Skills:      skills,
		MaxCapacity: r.MaxCapacity,
		Active:      active,
	}
}

// SetAgentActiveRequest payload for PATCH /agents/:id/active.
type SetAgentActiveRequest struct {
	Active *bool `json:"active"`
}

// AgentResponse renders an agent snapshot.
type AgentResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Skills       map[string]float64 `json:"skills"`
	CurrentLoad  int                `json:"current_load"`
	MaxCapacity  int                `json:"max_capacity"`
	Active       bool               `json:"active"`
	TotalHandled int                `json:"total_handled"`
	LastAssigned *time.Time         `json:"last_assigned,omitempty"`
}

// NewAgentResponse maps a domain agent.
func NewAgentResponse(a domain.Agent) AgentResponse {
	skills := make(map[string]float64, len(a.Skills))
	for k, v := range a.Skills {
		skills[string(k)] = v
	}
	resp := AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Skills:       skills,
		CurrentLoad:  a.CurrentLoad,
		MaxCapacity:  a.MaxCapacity,
		Active:       a.Active,
		TotalHandled: a.TotalHandled,
	}
	if !a.LastAssigned.IsZero() {
		last := a.LastAssigned
		resp.LastAssigned = &last
	}
	return resp
}
