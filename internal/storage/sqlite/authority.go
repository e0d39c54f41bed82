package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

const actionColumns = `
	id, kind, level, target_id, reason, initiated_by,
	before_state, after_state, revert_of, created_at
`

// CreateAction appends an authority action to the audit trail.
func (r *Repository) CreateAction(ctx context.Context, a model.AuthorityAction) error {
	before, err := marshalMap(a.Before)
	if err != nil {
		return err
	}
	after, err := marshalMap(a.After)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO authority_actions (
			id, kind, level, target_id, reason, initiated_by,
			before_state, after_state, revert_of, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		a.ID,
		a.Kind,
		int(a.Level),
		a.TargetID,
		a.Reason,
		a.InitiatedBy,
		before,
		after,
		a.RevertOf,
		a.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: authority_actions.") {
			return fmt.Errorf("action %s: %w", a.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert action: %w", err)
	}

	r.logger.Debugf("Created authority action in repository: %s", a.ID)
	return nil
}

// GetAction retrieves an authority action by ID.
func (r *Repository) GetAction(ctx context.Context, id string) (*model.AuthorityAction, error) {
	query := fmt.Sprintf(`SELECT %s FROM authority_actions WHERE id = ?`, actionColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	a, err := r.scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("action %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query action: %w", err)
	}

	return &a, nil
}

// ListActions returns authority actions, most recent first.
func (r *Repository) ListActions(ctx context.Context, f storage.ActionFilter) ([]model.AuthorityAction, error) {
	var conds []string
	var args []any

	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.TargetID != "" {
		conds = append(conds, "target_id = ?")
		args = append(args, f.TargetID)
	}

	query := fmt.Sprintf(`SELECT %s FROM authority_actions`, actionColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query actions: %w", err)
	}
	defer rows.Close()

	var actions []model.AuthorityAction
	for rows.Next() {
		a, err := r.scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return actions, nil
}

func (r *Repository) scanAction(s scanner) (model.AuthorityAction, error) {
	var a model.AuthorityAction
	var level int
	var before, after sql.NullString
	var createdAt int64

	err := s.Scan(
		&a.ID,
		&a.Kind,
		&level,
		&a.TargetID,
		&a.Reason,
		&a.InitiatedBy,
		&before,
		&after,
		&a.RevertOf,
		&createdAt,
	)
	if err != nil {
		return model.AuthorityAction{}, err
	}

	a.Level = model.AuthorityLevel(level)
	a.Before, err = unmarshalMap(before)
	if err != nil {
		return model.AuthorityAction{}, err
	}
	a.After, err = unmarshalMap(after)
	if err != nil {
		return model.AuthorityAction{}, err
	}
	a.CreatedAt = timeFromUnix(createdAt)

	return a, nil
}
