package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// TicketRepository archives tickets that reached a terminal or grouped state.
type TicketRepository interface {
	Archive(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Archive(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, body, status, category, urgency_score, model_used, incident_id, agent_id, fail_reason, arrived_at, updated_at)
        VALUES ($1,$2,$3,NULLIF($4,''),$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10,$11)
        ON CONFLICT (id) DO UPDATE
        SET status=EXCLUDED.status, category=EXCLUDED.category, urgency_score=EXCLUDED.urgency_score,
            model_used=EXCLUDED.model_used, incident_id=EXCLUDED.incident_id, agent_id=EXCLUDED.agent_id,
            fail_reason=EXCLUDED.fail_reason, updated_at=EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.Text,
		ticket.Status,
		string(ticket.CategoryOrEmpty()),
		ticket.Urgency,
		string(ticket.ModelUsed),
		ticket.IncidentID,
		ticket.AgentID,
		ticket.FailReason,
		ticket.ArrivalTime,
		ticket.UpdatedAt,
	)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, body, status, COALESCE(category,''), urgency_score, COALESCE(model_used,''),
            COALESCE(incident_id,''), COALESCE(agent_id,''), COALESCE(fail_reason,''), arrived_at, updated_at
        FROM tickets WHERE id=$1`

	var (
		ticket    domain.Ticket
		category  string
		modelUsed string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Text,
		&ticket.Status,
		&category,
		&ticket.Urgency,
		&modelUsed,
		&ticket.IncidentID,
		&ticket.AgentID,
		&ticket.FailReason,
		&ticket.ArrivalTime,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if category != "" {
		c := domain.Category(category)
		ticket.Category = &c
	}
	ticket.ModelUsed = domain.ModelSource(modelUsed)
	return &ticket, nil
}
