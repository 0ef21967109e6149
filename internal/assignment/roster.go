package assignment

import "github.com/spec-kit/ticket-orchestrator/internal/domain"

// DefaultRoster is the sample team used when no agent directory is configured.
func DefaultRoster() []domain.Agent {
	agent := func(id, name string, technical, billing, legal float64, capacity int) domain.Agent {
		return domain.Agent{
			ID:   id,
			Name: name,
			Skills: map[domain.Category]float64{
				domain.CategoryTechnical: technical,
				domain.CategoryBilling:   billing,
				domain.CategoryLegal:     legal,
			},
			MaxCapacity: capacity,
			Active:      true,
		}
	}
	return []domain.Agent{
		agent("agent-001", "Alice", 0.90, 0.10, 0.00, 6),
		agent("agent-002", "Bob", 0.20, 0.70, 0.10, 5),
		agent("agent-003", "Carol", 0.10, 0.10, 0.80, 4),
		agent("agent-004", "Dave", 0.50, 0.30, 0.20, 8),
		agent("agent-005", "Eve", 0.40, 0.40, 0.20, 5),
	}
}
