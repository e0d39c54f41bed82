package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/model"
)

const discoveryColumns = `
	id, source_task_id, kind, description,
	spawned_task_ids, priority_boost, resolution,
	created_at, resolved_at
`

// CreateDiscovery creates a new discovery record.
func (r *Repository) CreateDiscovery(ctx context.Context, d model.Discovery) error {
	if err := r.insertDiscovery(ctx, r.db, d); err != nil {
		return err
	}
	r.logger.Debugf("Created discovery in repository: %s", d.ID)
	return nil
}

// CreateDiscoveryAndTask stores a discovery and its spawned branch task in a
// single transaction.
func (r *Repository) CreateDiscoveryAndTask(ctx context.Context, d model.Discovery, t model.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertDiscovery(ctx, tx, d); err != nil {
		return err
	}
	if err := r.insertTask(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created discovery %s with branch task %s", d.ID, t.ID)
	return nil
}

func (r *Repository) insertDiscovery(ctx context.Context, db execer, d model.Discovery) error {
	spawned, err := marshalStrings(d.SpawnedTaskIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO discoveries (
			id, source_task_id, kind, description,
			spawned_task_ids, priority_boost, resolution,
			created_at, resolved_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.ExecContext(
		ctx,
		query,
		d.ID,
		d.SourceTaskID,
		d.Kind,
		d.Description,
		spawned,
		d.PriorityBoost,
		d.Resolution,
		d.CreatedAt.Unix(),
		unixPtr(d.ResolvedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: discoveries.") {
			return fmt.Errorf("discovery %s: %w", d.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert discovery: %w", err)
	}

	return nil
}

// GetDiscovery retrieves a discovery by ID.
func (r *Repository) GetDiscovery(ctx context.Context, id string) (*model.Discovery, error) {
	query := fmt.Sprintf(`SELECT %s FROM discoveries WHERE id = ?`, discoveryColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := r.scanDiscovery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("discovery %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query discovery: %w", err)
	}

	return &d, nil
}

// ListDiscoveries returns discoveries, optionally filtered by source task.
func (r *Repository) ListDiscoveries(ctx context.Context, sourceTaskID string) ([]model.Discovery, error) {
	query := fmt.Sprintf(`SELECT %s FROM discoveries`, discoveryColumns)
	var args []any
	if sourceTaskID != "" {
		query += " WHERE source_task_id = ?"
		args = append(args, sourceTaskID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query discoveries: %w", err)
	}
	defer rows.Close()

	var discoveries []model.Discovery
	for rows.Next() {
		d, err := r.scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		discoveries = append(discoveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return discoveries, nil
}

// UpdateDiscovery updates an existing discovery.
func (r *Repository) UpdateDiscovery(ctx context.Context, d model.Discovery) error {
	spawned, err := marshalStrings(d.SpawnedTaskIDs)
	if err != nil {
		return err
	}

	query := `
		UPDATE discoveries
		SET
			kind = ?,
			description = ?,
			spawned_task_ids = ?,
			priority_boost = ?,
			resolution = ?,
			resolved_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		d.Kind,
		d.Description,
		spawned,
		d.PriorityBoost,
		d.Resolution,
		unixPtr(d.ResolvedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update discovery: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("discovery %s: %w", d.ID, model.ErrNotFound)
	}

	return nil
}

func (r *Repository) scanDiscovery(s scanner) (model.Discovery, error) {
	var d model.Discovery
	var spawned string
	var createdAt int64
	var resolvedAt sql.NullInt64

	err := s.Scan(
		&d.ID,
		&d.SourceTaskID,
		&d.Kind,
		&d.Description,
		&spawned,
		&d.PriorityBoost,
		&d.Resolution,
		&createdAt,
		&resolvedAt,
	)
	if err != nil {
		return model.Discovery{}, err
	}

	d.SpawnedTaskIDs, err = unmarshalStrings(spawned)
	if err != nil {
		return model.Discovery{}, err
	}
	d.CreatedAt = timeFromUnix(createdAt)
	d.ResolvedAt = timeFromNullUnix(resolvedAt)

	return d, nil
}
