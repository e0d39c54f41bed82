package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/model"
)

const agentColumns = `id, name, capabilities, capacity, status, created_at, updated_at`

// CreateAgent creates a new agent record.
func (r *Repository) CreateAgent(ctx context.Context, a model.Agent) error {
	capabilities, err := marshalStrings(a.Capabilities)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents (id, name, capabilities, capacity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		a.ID,
		a.Name,
		capabilities,
		a.Capacity,
		a.Status,
		a.CreatedAt.Unix(),
		a.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: agents.") {
			return fmt.Errorf("agent %s: %w", a.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert agent: %w", err)
	}

	r.logger.Debugf("Created agent in repository: %s", a.ID)
	return nil
}

// GetAgent retrieves an agent by ID.
func (r *Repository) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = ?`, agentColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	a, err := r.scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query agent: %w", err)
	}

	return &a, nil
}

// ListAgents returns all agents.
func (r *Repository) ListAgents(ctx context.Context) ([]model.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents ORDER BY created_at ASC, id ASC`, agentColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := r.scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		agents = append(agents, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return agents, nil
}

// UpdateAgent updates an existing agent.
func (r *Repository) UpdateAgent(ctx context.Context, a model.Agent) error {
	capabilities, err := marshalStrings(a.Capabilities)
	if err != nil {
		return err
	}

	query := `
		UPDATE agents
		SET name = ?, capabilities = ?, capacity = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query, a.Name, capabilities, a.Capacity, a.Status, a.UpdatedAt.Unix(), a.ID)
	if err != nil {
		return fmt.Errorf("could not update agent: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, model.ErrNotFound)
	}

	return nil
}

func (r *Repository) scanAgent(s scanner) (model.Agent, error) {
	var a model.Agent
	var capabilities string
	var createdAt, updatedAt int64

	err := s.Scan(
		&a.ID,
		&a.Name,
		&capabilities,
		&a.Capacity,
		&a.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Agent{}, err
	}

	a.Capabilities, err = unmarshalStrings(capabilities)
	if err != nil {
		return model.Agent{}, err
	}
	a.CreatedAt = timeFromUnix(createdAt)
	a.UpdatedAt = timeFromUnix(updatedAt)

	return a, nil
}
