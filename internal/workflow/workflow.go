// Package workflow implements the ticket state machine: Kanban status
// transitions, the blocked overlay, and phase advancement that materializes
// the next phase's tasks.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// ServiceConfig is the configuration for the workflow service.
type ServiceConfig struct {
	Repository storage.Repository
	Registry   *phase.Registry
	Scheduler  *scheduler.Service
	EventBus   eventbus.Publisher
	Logger     log.Logger

	NowFn func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("phase registry is required")
	}
	if c.Scheduler == nil {
		return fmt.Errorf("scheduler is required")
	}
	if c.EventBus == nil {
		c.EventBus = eventbus.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.NowFn == nil {
		c.NowFn = time.Now
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "workflow.Service"})
	return nil
}

// Service drives tickets through their phases.
type Service struct {
	repo      storage.Repository
	registry  *phase.Registry
	scheduler *scheduler.Service
	bus       eventbus.Publisher
	logger    log.Logger
	now       func() time.Time
}

// NewService creates a new workflow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:      cfg.Repository,
		registry:  cfg.Registry,
		scheduler: cfg.Scheduler,
		bus:       cfg.EventBus,
		logger:    cfg.Logger,
		now:       cfg.NowFn,
	}, nil
}

// CreateTicket creates a ticket in the first workflow phase and materializes
// that phase's task templates.
func (s *Service) CreateTicket(ctx context.Context, title, description string, priority model.Priority) (*model.Ticket, error) {
	first := s.registry.First()

	now := s.now()
	ticket := model.Ticket{
		ID:          ulid.Make().String(),
		Title:       title,
		Description: description,
		PhaseID:     first.ID,
		Status:      first.KanbanStatus,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ticket.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("could not store ticket: %w", err)
	}

	if err := s.materialize(ctx, ticket, first); err != nil {
		return nil, err
	}

	s.logger.WithValues(log.Kv{"ticket": ticket.ID, "phase": first.ID}).Infof("Ticket created")
	s.bus.Publish(ctx, eventbus.Event{Type: "ticket_created", EntityType: "ticket", EntityID: ticket.ID, At: now})
	return &ticket, nil
}

// Transition moves a ticket to another phase explicitly. Both the phase
// successor graph and the Kanban status table must allow the move, otherwise
// model.ErrInvalidTransition is returned and nothing changes.
func (s *Service) Transition(ctx context.Context, ticketID, toPhaseID, by, reason string) (*model.Ticket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not get ticket: %w", err)
	}

	target, err := s.registry.Get(toPhaseID)
	if err != nil {
		return nil, fmt.Errorf("could not resolve target phase: %w", err)
	}

	allowed, err := s.registry.CanTransition(ticket.PhaseID, toPhaseID)
	if err != nil {
		return nil, fmt.Errorf("could not check phase transition: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("phase %s does not allow successor %s: %w", ticket.PhaseID, toPhaseID, model.ErrInvalidTransition)
	}
	if !model.ValidTicketTransition(ticket.Status, target.KanbanStatus, ticket.Blocked) {
		return nil, fmt.Errorf("ticket status %s cannot move to %s: %w", ticket.Status, target.KanbanStatus, model.ErrInvalidTransition)
	}

	return s.apply(ctx, *ticket, *target, by, reason)
}

// Advance checks whether the current phase of a ticket is complete and, if
// so, moves the ticket to the next phase and materializes its tasks. It
// returns the updated ticket and true when an advancement happened.
func (s *Service) Advance(ctx context.Context, ticketID, by string) (*model.Ticket, bool, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, false, fmt.Errorf("could not get ticket: %w", err)
	}

	if ticket.Blocked || ticket.Status.Terminal() {
		return ticket, false, nil
	}

	done, err := s.phaseComplete(ctx, ticket)
	if err != nil {
		return nil, false, err
	}
	if !done {
		return ticket, false, nil
	}

	next, err := s.registry.Next(ticket.PhaseID)
	if err != nil {
		return nil, false, fmt.Errorf("could not resolve next phase: %w", err)
	}
	if next == nil {
		return ticket, false, nil
	}

	if !model.ValidTicketTransition(ticket.Status, next.KanbanStatus, false) && ticket.Status != next.KanbanStatus {
		return nil, false, fmt.Errorf("ticket status %s cannot move to %s: %w", ticket.Status, next.KanbanStatus, model.ErrInvalidTransition)
	}

	updated, err := s.apply(ctx, *ticket, *next, by, "phase tasks completed")
	if err != nil {
		return nil, false, err
	}

	return updated, true, nil
}

// Block sets the blocked overlay on a ticket.
func (s *Service) Block(ctx context.Context, ticketID, reason string) (*model.Ticket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not get ticket: %w", err)
	}
	if ticket.Blocked {
		return ticket, nil
	}

	now := s.now()
	ticket.Blocked = true
	ticket.BlockedReason = reason
	ticket.BlockedAt = &now
	ticket.UpdatedAt = now
	if err := s.repo.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("could not update ticket: %w", err)
	}

	s.logger.WithValues(log.Kv{"ticket": ticketID}).Infof("Ticket blocked: %s", reason)
	s.bus.Publish(ctx, eventbus.Event{Type: "ticket_blocked", EntityType: "ticket", EntityID: ticketID, At: now})
	return ticket, nil
}

// Unblock clears the blocked overlay, leaving the primary status untouched.
func (s *Service) Unblock(ctx context.Context, ticketID string) (*model.Ticket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not get ticket: %w", err)
	}
	if !ticket.Blocked {
		return ticket, nil
	}

	ticket.Blocked = false
	ticket.BlockedReason = ""
	ticket.BlockedAt = nil
	ticket.UpdatedAt = s.now()
	if err := s.repo.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("could not update ticket: %w", err)
	}

	s.logger.WithValues(log.Kv{"ticket": ticketID}).Infof("Ticket unblocked")
	return ticket, nil
}

// History returns the phase transitions of a ticket.
func (s *Service) History(ctx context.Context, ticketID string) ([]storage.PhaseHistoryEntry, error) {
	return s.repo.ListPhaseHistory(ctx, ticketID)
}

// phaseComplete reports whether the ticket's current phase is done: every
// task completed AND every required expected output of the phase present in
// some completed task's result artifacts. A phase with no tasks at all is not
// considered complete: it has not been worked yet.
func (s *Service) phaseComplete(ctx context.Context, ticket *model.Ticket) (bool, error) {
	tasks, err := s.repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: ticket.PhaseID})
	if err != nil {
		return false, fmt.Errorf("could not list phase tasks: %w", err)
	}
	if len(tasks) == 0 {
		return false, nil
	}

	for _, t := range tasks {
		if t.Status != model.TaskStatusCompleted {
			return false, nil
		}
	}

	current, err := s.registry.Get(ticket.PhaseID)
	if err != nil {
		return false, fmt.Errorf("could not resolve current phase: %w", err)
	}
	for _, out := range current.ExpectedOutputs {
		if !out.Required {
			continue
		}
		if !outputPresent(out, tasks) {
			s.logger.WithValues(log.Kv{"ticket": ticket.ID, "phase": current.ID}).
				Debugf("Phase tasks completed but output %q (%s) is missing", out.Pattern, out.Type)
			return false, nil
		}
	}
	return true, nil
}

func outputPresent(out model.PhaseOutput, tasks []model.Task) bool {
	for _, t := range tasks {
		if t.Result == nil {
			continue
		}
		for _, a := range t.Result.Artifacts {
			if out.Matches(a) {
				return true
			}
		}
	}
	return false
}

// apply performs the phase move: history record, ticket update and task
// materialization for the new phase.
func (s *Service) apply(ctx context.Context, ticket model.Ticket, target model.Phase, by, reason string) (*model.Ticket, error) {
	now := s.now()

	entry := storage.PhaseHistoryEntry{
		TicketID:       ticket.ID,
		FromPhase:      ticket.PhaseID,
		ToPhase:        target.ID,
		Reason:         reason,
		TransitionedBy: by,
		At:             now,
	}
	if err := s.repo.AddPhaseHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("could not record phase history: %w", err)
	}

	ticket.PreviousPhaseID = ticket.PhaseID
	ticket.PhaseID = target.ID
	ticket.Status = target.KanbanStatus
	ticket.UpdatedAt = now
	if ticket.Blocked && model.UnblockTransition(target.KanbanStatus) {
		ticket.Blocked = false
		ticket.BlockedReason = ""
		ticket.BlockedAt = nil
	}

	if err := s.repo.UpdateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("could not update ticket: %w", err)
	}

	if err := s.materialize(ctx, ticket, target); err != nil {
		return nil, err
	}

	s.logger.WithValues(log.Kv{"ticket": ticket.ID, "from": entry.FromPhase, "to": target.ID}).
		Infof("Ticket advanced to phase %s", target.ID)
	s.bus.Publish(ctx, eventbus.Event{Type: "ticket_phase_changed", EntityType: "ticket", EntityID: ticket.ID, Payload: log.Kv{"from": entry.FromPhase, "to": target.ID}, At: now})
	return &ticket, nil
}

// materialize creates the target phase's template tasks for the ticket
// through the scheduler, which owns template defaults and idempotence.
func (s *Service) materialize(ctx context.Context, ticket model.Ticket, target model.Phase) error {
	if _, err := s.scheduler.EnqueuePhaseTasks(ctx, ticket.ID, target.ID); err != nil {
		return fmt.Errorf("could not materialize phase tasks: %w", err)
	}
	return nil
}
