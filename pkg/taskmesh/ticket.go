package taskmesh

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/model"
)

// CreateTicketOpts configures ticket creation.
type CreateTicketOpts struct {
	// Title is the ticket title (required).
	Title string
	// Description is the long-form ticket description.
	Description string
	// Priority is the scheduling tier. Tasks materialized for the ticket
	// inherit it. Default: [PriorityMedium].
	Priority Priority
}

// CreateTicket creates a new ticket in the backlog. No tasks are materialized
// until the ticket enters its first working phase.
func (c *Client) CreateTicket(ctx context.Context, opts CreateTicketOpts) (*Ticket, error) {
	priority := model.Priority(opts.Priority)
	if priority == "" {
		priority = model.PriorityMedium
	}

	ticket, err := c.workflow.CreateTicket(ctx, opts.Title, opts.Description, priority)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, nil
}

// GetTicket returns a ticket by ID.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	ticket, err := c.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, nil
}

// ListTickets returns all tickets.
func (c *Client) ListTickets(ctx context.Context) ([]Ticket, error) {
	tickets, err := c.repo.ListTickets(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTicketList(tickets), nil
}

// TransitionTicket explicitly moves a ticket to a workflow phase, validating
// the Kanban transition and materializing the phase's task templates. Use
// this to move a fresh ticket out of the backlog.
//
// Returns [ErrInvalidTransition] on an illegal move, [ErrNotFound] if the
// ticket or phase does not exist.
func (c *Client) TransitionTicket(ctx context.Context, ticketID, toPhaseID, by, reason string) (*Ticket, error) {
	ticket, err := c.workflow.Transition(ctx, ticketID, toPhaseID, by, reason)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, nil
}

// AdvanceTicket checks whether the current phase of a ticket is complete and,
// if so, moves the ticket to the next phase and materializes its tasks. It
// returns the updated ticket and true when an advancement happened. Blocked
// and done tickets never advance.
func (c *Client) AdvanceTicket(ctx context.Context, ticketID, by string) (*Ticket, bool, error) {
	ticket, advanced, err := c.workflow.Advance(ctx, ticketID, by)
	if err != nil {
		return nil, false, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, advanced, nil
}

// BlockTicket sets the blocked overlay on a ticket. Blocking an already
// blocked ticket keeps the original reason. Tasks of a blocked ticket are
// invisible to agents until the ticket is unblocked.
func (c *Client) BlockTicket(ctx context.Context, ticketID, reason string) (*Ticket, error) {
	ticket, err := c.workflow.Block(ctx, ticketID, reason)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, nil
}

// UnblockTicket clears the blocked overlay on a ticket.
func (c *Client) UnblockTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	ticket, err := c.workflow.Unblock(ctx, ticketID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTicket(*ticket)
	return &result, nil
}

// TicketHistory returns the recorded phase transitions of a ticket, oldest
// first.
func (c *Client) TicketHistory(ctx context.Context, ticketID string) ([]PhaseTransition, error) {
	entries, err := c.workflow.History(ctx, ticketID)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalHistory(entries), nil
}

// BoardColumn is one Kanban column with its tickets.
type BoardColumn struct {
	Status  TicketStatus
	Tickets []Ticket
}

// Board returns all tickets grouped into Kanban columns, in board order.
func (c *Client) Board(ctx context.Context) ([]BoardColumn, error) {
	tickets, err := c.repo.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tickets: %w", mapError(err))
	}

	order := []model.TicketStatus{
		model.TicketStatusBacklog,
		model.TicketStatusAnalyzing,
		model.TicketStatusBuilding,
		model.TicketStatusBuildingDone,
		model.TicketStatusTesting,
		model.TicketStatusDone,
	}

	byStatus := map[model.TicketStatus][]Ticket{}
	for _, t := range tickets {
		byStatus[t.Status] = append(byStatus[t.Status], fromInternalTicket(t))
	}

	columns := make([]BoardColumn, len(order))
	for i, status := range order {
		columns[i] = BoardColumn{Status: TicketStatus(status), Tickets: byStatus[status]}
	}
	return columns, nil
}
