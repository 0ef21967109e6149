package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// IncidentRepository archives master incidents and their members.
type IncidentRepository interface {
	Save(ctx context.Context, incident domain.MasterIncident) error
	GetByID(ctx context.Context, id string) (*domain.MasterIncident, error)
}

type incidentRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentRepository instantiates the repository.
func NewIncidentRepository(pool *pgxpool.Pool) IncidentRepository {
	return &incidentRepository{pool: pool}
}

// Save upserts the incident row and appends any members not yet stored.
func (r *incidentRepository) Save(ctx context.Context, incident domain.MasterIncident) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
        INSERT INTO master_incidents (id, category, suppressed_alerts, closed, created_at, last_activity)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE
        SET suppressed_alerts=EXCLUDED.suppressed_alerts, closed=EXCLUDED.closed, last_activity=EXCLUDED.last_activity`
	if _, err := tx.Exec(ctx, upsert,
		incident.ID,
		incident.Category,
		incident.SuppressedAlerts,
		incident.Closed,
		incident.CreatedAt,
		incident.LastActivity,
	); err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}

	batch := &pgx.Batch{}
	for i, ticketID := range incident.MemberIDs {
		batch.Queue(`
            INSERT INTO incident_members (incident_id, ticket_id, position)
            VALUES ($1,$2,$3)
            ON CONFLICT DO NOTHING`, incident.ID, ticketID, i)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert incident members: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*domain.MasterIncident, error) {
	const query = `
        SELECT id, category, suppressed_alerts, closed, created_at, last_activity
        FROM master_incidents WHERE id=$1`
	var incident domain.MasterIncident
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&incident.ID,
		&incident.Category,
		&incident.SuppressedAlerts,
		&incident.Closed,
		&incident.CreatedAt,
		&incident.LastActivity,
	); err != nil {
		return nil, notFound(err)
	}

	rows, err := r.pool.Query(ctx, `SELECT ticket_id FROM incident_members WHERE incident_id=$1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ticketID string
		if err := rows.Scan(&ticketID); err != nil {
			return nil, err
		}
		incident.MemberIDs = append(incident.MemberIDs, ticketID)
	}
	return &incident, rows.Err()
}
