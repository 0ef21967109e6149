package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// AgentRepository is the agent directory backed by Postgres.
type AgentRepository interface {
	List(ctx context.Context, filter AgentFilter) ([]domain.Agent, error)
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	Upsert(ctx context.Context, agent domain.Agent) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	AdjustLoad(ctx context.Context, id string, delta int) error
}

// AgentFilter narrows List.
type AgentFilter struct {
	Active *bool
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

const agentColumns = `id, name, skills, current_load, max_capacity, active_flag, total_handled, last_assigned, created_at, updated_at`

func (r *agentRepository) List(ctx context.Context, filter AgentFilter) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	args := []any{}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		query += fmt.Sprintf(" WHERE active_flag=$%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *agent)
	}
	return result, rows.Err()
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id=$1`
	agent, err := scanAgent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return agent, nil
}

func (r *agentRepository) Upsert(ctx context.Context, agent domain.Agent) error {
	skills, err := json.Marshal(agent.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	const query = `
        INSERT INTO agents (id, name, skills, current_load, max_capacity, active_flag, total_handled, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
        ON CONFLICT (id) DO UPDATE
        SET name=EXCLUDED.name, skills=EXCLUDED.skills, max_capacity=EXCLUDED.max_capacity,
            active_flag=EXCLUDED.active_flag, updated_at=NOW()`
	_, err = r.pool.Exec(ctx, query,
		agent.ID,
		agent.Name,
		skills,
		agent.CurrentLoad,
		agent.MaxCapacity,
		agent.Active,
		agent.TotalHandled,
	)
	return err
}

func (r *agentRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *agentRepository) SetActive(ctx context.Context, id string, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE agents SET active_flag=$1, updated_at=NOW() WHERE id=$2`, active, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustLoad applies delta, clamping at zero. Positive deltas also count
// toward total_handled.
func (r *agentRepository) AdjustLoad(ctx context.Context, id string, delta int) error {
	const query = `
        UPDATE agents
        SET current_load=GREATEST(current_load + $1, 0),
            total_handled=total_handled + GREATEST($1, 0),
            last_assigned=CASE WHEN $1 > 0 THEN NOW() ELSE last_assigned END,
            updated_at=NOW()
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, delta, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		agent        domain.Agent
		skills       []byte
		lastAssigned *time.Time
	)
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&skills,
		&agent.CurrentLoad,
		&agent.MaxCapacity,
		&agent.Active,
		&agent.TotalHandled,
		&lastAssigned,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &agent.Skills); err != nil {
			return nil, fmt.Errorf("decode skills for %s: %w", agent.ID, err)
		}
	}
	if agent.Skills == nil {
		agent.Skills = map[domain.Category]float64{}
	}
	if lastAssigned != nil {
		agent.LastAssigned = *lastAssigned
	}
	return &agent, nil
}
