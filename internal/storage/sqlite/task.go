package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

const taskColumns = `
	id, ticket_id, phase_id, type, description,
	priority, status, depends_on, deadline, parent_task_id,
	required_capabilities, assigned_agent_id,
	retry_count, max_retries, timeout_seconds,
	result, error_message,
	created_at, started_at, completed_at
`

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := r.insertTask(ctx, r.db, t); err != nil {
		return err
	}
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// CreateTasks creates a batch of tasks in a single transaction.
func (r *Repository) CreateTasks(ctx context.Context, tasks []model.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if err := r.insertTask(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created %d tasks in repository", len(tasks))
	return nil
}

func (r *Repository) insertTask(ctx context.Context, db execer, t model.Task) error {
	dependsOn, err := marshalStrings(t.DependsOn)
	if err != nil {
		return err
	}
	capabilities, err := marshalStrings(t.RequiredCapabilities)
	if err != nil {
		return err
	}
	result, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (
			id, ticket_id, phase_id, type, description,
			priority, status, depends_on, deadline, parent_task_id,
			required_capabilities, assigned_agent_id,
			retry_count, max_retries, timeout_seconds,
			result, error_message,
			created_at, started_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.ExecContext(
		ctx,
		query,
		t.ID,
		t.TicketID,
		t.PhaseID,
		t.Type,
		t.Description,
		t.Priority,
		t.Status,
		dependsOn,
		unixPtr(t.Deadline),
		t.ParentTaskID,
		capabilities,
		t.AssignedAgentID,
		t.RetryCount,
		t.MaxRetries,
		int64(t.Timeout/time.Second),
		result,
		t.ErrorMessage,
		t.CreatedAt.Unix(),
		unixPtr(t.StartedAt),
		unixPtr(t.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
			return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	task, err := r.scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	return &task, nil
}

// ListTasks returns tasks matching the filter, oldest first.
func (r *Repository) ListTasks(ctx context.Context, f storage.TaskFilter) ([]model.Task, error) {
	var conds []string
	var args []any

	if f.TicketID != "" {
		conds = append(conds, "ticket_id = ?")
		args = append(args, f.TicketID)
	}
	if f.PhaseID != "" {
		conds = append(conds, "phase_id = ?")
		args = append(args, f.PhaseID)
	}
	if f.AssignedAgentID != "" {
		conds = append(conds, "assigned_agent_id = ?")
		args = append(args, f.AssignedAgentID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, s)
		}
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	query := fmt.Sprintf(`SELECT %s FROM tasks`, taskColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

// UpdateTask updates an existing task.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	dependsOn, err := marshalStrings(t.DependsOn)
	if err != nil {
		return err
	}
	capabilities, err := marshalStrings(t.RequiredCapabilities)
	if err != nil {
		return err
	}
	result, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET
			ticket_id = ?,
			phase_id = ?,
			type = ?,
			description = ?,
			priority = ?,
			status = ?,
			depends_on = ?,
			deadline = ?,
			parent_task_id = ?,
			required_capabilities = ?,
			assigned_agent_id = ?,
			retry_count = ?,
			max_retries = ?,
			timeout_seconds = ?,
			result = ?,
			error_message = ?,
			created_at = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		t.TicketID,
		t.PhaseID,
		t.Type,
		t.Description,
		t.Priority,
		t.Status,
		dependsOn,
		unixPtr(t.Deadline),
		t.ParentTaskID,
		capabilities,
		t.AssignedAgentID,
		t.RetryCount,
		t.MaxRetries,
		int64(t.Timeout/time.Second),
		result,
		t.ErrorMessage,
		t.CreatedAt.Unix(),
		unixPtr(t.StartedAt),
		unixPtr(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated task in repository: %s", t.ID)
	return nil
}

// ClaimTask atomically transitions a pending task to assigned. The conditional
// UPDATE is the mutual-exclusion point: only one of N concurrent claimers can
// flip the row.
func (r *Repository) ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	query := `
		UPDATE tasks
		SET status = ?, assigned_agent_id = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, query, model.TaskStatusAssigned, agentID, taskID, model.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("could not claim task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		task, err := r.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("task %s has status %s: %w", taskID, task.Status, model.ErrAlreadyAssigned)
	}

	return r.GetTask(ctx, taskID)
}

func (r *Repository) scanTask(s scanner) (model.Task, error) {
	var t model.Task
	var dependsOn, capabilities string
	var result sql.NullString
	var timeoutSeconds int64
	var createdAt int64
	var deadline, startedAt, completedAt sql.NullInt64

	err := s.Scan(
		&t.ID,
		&t.TicketID,
		&t.PhaseID,
		&t.Type,
		&t.Description,
		&t.Priority,
		&t.Status,
		&dependsOn,
		&deadline,
		&t.ParentTaskID,
		&capabilities,
		&t.AssignedAgentID,
		&t.RetryCount,
		&t.MaxRetries,
		&timeoutSeconds,
		&result,
		&t.ErrorMessage,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return model.Task{}, err
	}

	t.DependsOn, err = unmarshalStrings(dependsOn)
	if err != nil {
		return model.Task{}, err
	}
	t.RequiredCapabilities, err = unmarshalStrings(capabilities)
	if err != nil {
		return model.Task{}, err
	}
	t.Result, err = unmarshalResult(result)
	if err != nil {
		return model.Task{}, err
	}

	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	t.CreatedAt = timeFromUnix(createdAt)
	t.Deadline = timeFromNullUnix(deadline)
	t.StartedAt = timeFromNullUnix(startedAt)
	t.CompletedAt = timeFromNullUnix(completedAt)

	return t, nil
}

func marshalResult(res *model.Result) (*string, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("could not marshal result: %w", err)
	}
	s := string(b)
	return &s, nil
}

func unmarshalResult(s sql.NullString) (*model.Result, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var res model.Result
	if err := json.Unmarshal([]byte(s.String), &res); err != nil {
		return nil, fmt.Errorf("could not unmarshal result: %w", err)
	}
	return &res, nil
}
