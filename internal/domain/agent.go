package domain

import "time"

// Agent models a human support agent available for assignment.
type Agent struct {
	ID           string
	Name         string
	Skills       map[Category]float64
	CurrentLoad  int
	MaxCapacity  int
	Active       bool
	TotalHandled int
	LastAssigned time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Skill returns proficiency for category, zero when absent.
func (a *Agent) Skill(category Category) float64 {
	return a.Skills[category]
}

// AvailableSlots is the remaining capacity.
func (a *Agent) AvailableSlots() int {
	if a.CurrentLoad >= a.MaxCapacity {
		return 0
	}
	return a.MaxCapacity - a.CurrentLoad
}

// Eligible applies the hard assignment constraints.
func (a *Agent) Eligible(category Category) bool {
	return a.Active && a.CurrentLoad < a.MaxCapacity && a.Skill(category) > 0
}

// Clone returns a deep copy safe to hand outside a lock.
func (a *Agent) Clone() Agent {
	out := *a
	out.Skills = make(map[Category]float64, len(a.Skills))
	for k, v := range a.Skills {
		out.Skills[k] = v
	}
	return out
}

// RoutingDecision records one assignment attempt.
type RoutingDecision struct {
	TicketID  string    `json:"ticket_id"`
	Category  Category  `json:"category"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	RoutedAt  time.Time `json:"routed_at"`
}
