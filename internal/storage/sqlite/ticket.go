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

const ticketColumns = `
	id, title, description,
	phase_id, previous_phase_id,
	status, priority,
	blocked, blocked_reason, blocked_at,
	created_at, updated_at
`

// CreateTicket creates a new ticket in the repository.
func (r *Repository) CreateTicket(ctx context.Context, t model.Ticket) error {
	query := `
		INSERT INTO tickets (
			id, title, description,
			phase_id, previous_phase_id,
			status, priority,
			blocked, blocked_reason, blocked_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Title,
		t.Description,
		t.PhaseID,
		t.PreviousPhaseID,
		t.Status,
		t.Priority,
		t.Blocked,
		t.BlockedReason,
		unixPtr(t.BlockedAt),
		t.CreatedAt.Unix(),
		t.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tickets.") {
			return fmt.Errorf("ticket %s: %w", t.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert ticket: %w", err)
	}

	r.logger.Debugf("Created ticket in repository: %s", t.ID)
	return nil
}

// GetTicket retrieves a ticket by ID.
func (r *Repository) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id = ?`, ticketColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	ticket, err := r.scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query ticket: %w", err)
	}

	return &ticket, nil
}

// ListTickets returns all tickets, oldest first.
func (r *Repository) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets ORDER BY created_at ASC, id ASC`, ticketColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		ticket, err := r.scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		tickets = append(tickets, ticket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tickets, nil
}

// UpdateTicket updates an existing ticket.
func (r *Repository) UpdateTicket(ctx context.Context, t model.Ticket) error {
	query := `
		UPDATE tickets
		SET
			title = ?,
			description = ?,
			phase_id = ?,
			previous_phase_id = ?,
			status = ?,
			priority = ?,
			blocked = ?,
			blocked_reason = ?,
			blocked_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		t.Title,
		t.Description,
		t.PhaseID,
		t.PreviousPhaseID,
		t.Status,
		t.Priority,
		t.Blocked,
		t.BlockedReason,
		unixPtr(t.BlockedAt),
		t.UpdatedAt.Unix(),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update ticket: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ticket %s: %w", t.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated ticket in repository: %s", t.ID)
	return nil
}

// AddPhaseHistory appends a phase transition record.
func (r *Repository) AddPhaseHistory(ctx context.Context, e storage.PhaseHistoryEntry) error {
	query := `
		INSERT INTO phase_history (ticket_id, from_phase, to_phase, reason, transitioned_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, e.TicketID, e.FromPhase, e.ToPhase, e.Reason, e.TransitionedBy, e.At.Unix())
	if err != nil {
		return fmt.Errorf("could not insert phase history: %w", err)
	}

	return nil
}

// ListPhaseHistory returns the phase transitions of a ticket in order.
func (r *Repository) ListPhaseHistory(ctx context.Context, ticketID string) ([]storage.PhaseHistoryEntry, error) {
	query := `
		SELECT ticket_id, from_phase, to_phase, reason, transitioned_by, created_at
		FROM phase_history
		WHERE ticket_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not query phase history: %w", err)
	}
	defer rows.Close()

	var entries []storage.PhaseHistoryEntry
	for rows.Next() {
		var e storage.PhaseHistoryEntry
		var at int64
		if err := rows.Scan(&e.TicketID, &e.FromPhase, &e.ToPhase, &e.Reason, &e.TransitionedBy, &at); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		e.At = timeFromUnix(at)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

func (r *Repository) scanTicket(s scanner) (model.Ticket, error) {
	var t model.Ticket
	var createdAt, updatedAt int64
	var blockedAt sql.NullInt64

	err := s.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.PhaseID,
		&t.PreviousPhaseID,
		&t.Status,
		&t.Priority,
		&t.Blocked,
		&t.BlockedReason,
		&blockedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Ticket{}, err
	}

	t.BlockedAt = timeFromNullUnix(blockedAt)
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)

	return t, nil
}
