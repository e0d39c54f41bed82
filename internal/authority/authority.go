// Package authority implements the ranked override service: supervisory
// roles may cancel, reprioritize or reassign scheduler decisions, every
// intervention is audited and reversible.
package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// Thresholds is the minimum authority level required per action kind.
type Thresholds map[model.ActionKind]model.AuthorityLevel

// DefaultThresholds returns the standard override thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		model.ActionCancelTask:       model.AuthorityGuardian,
		model.ActionOverridePriority: model.AuthorityMonitor,
		model.ActionReassignCapacity: model.AuthorityMonitor,
		model.ActionBlockTicket:      model.AuthorityWatchdog,
		model.ActionRevert:           model.AuthorityGuardian,
	}
}

// ServiceConfig is the configuration for the authority service.
type ServiceConfig struct {
	Repository storage.Repository
	Thresholds Thresholds
	EventBus   eventbus.Publisher
	Logger     log.Logger

	NowFn func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Thresholds == nil {
		c.Thresholds = DefaultThresholds()
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "authority.Service"})
	return nil
}

// Service executes authority overrides. Every mutation passes one permission
// gate and leaves one append-only audit record.
type Service struct {
	repo       storage.Repository
	thresholds Thresholds
	bus        eventbus.Publisher
	logger     log.Logger
	now        func() time.Time
}

// NewService creates a new authority service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:       cfg.Repository,
		thresholds: cfg.Thresholds,
		bus:        cfg.EventBus,
		logger:     cfg.Logger,
		now:        cfg.NowFn,
	}, nil
}

// Request identifies who is asking for an override and why.
type Request struct {
	Level       model.AuthorityLevel
	InitiatedBy string
	Reason      string
}

func (r *Request) validate() error {
	if !r.Level.Valid() {
		return fmt.Errorf("unknown authority level %d: %w", r.Level, model.ErrNotValid)
	}
	if r.Reason == "" {
		return fmt.Errorf("a reason is required: %w", model.ErrNotValid)
	}
	return nil
}

// guard is the single permission check of the whole service. Nothing mutates
// before it passes.
func (s *Service) guard(kind model.ActionKind, level model.AuthorityLevel) error {
	required, ok := s.thresholds[kind]
	if !ok {
		return fmt.Errorf("no threshold configured for action %s: %w", kind, model.ErrNotValid)
	}
	if level < required {
		return fmt.Errorf("action %s requires %s, caller has %s: %w", kind, required, level, model.ErrPermission)
	}
	return nil
}

// EmergencyCancel terminates a task out of band. Cancelling a task that is
// already terminal records the action but changes nothing.
func (s *Service) EmergencyCancel(ctx context.Context, req Request, taskID string) (*model.AuthorityAction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.guard(model.ActionCancelTask, req.Level); err != nil {
		return nil, err
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get target task: %w", err)
	}

	action := s.newAction(model.ActionCancelTask, req, taskID)
	action.Before = log.Kv{"status": string(task.Status), "assigned_agent_id": task.AssignedAgentID}

	if !task.Status.Terminal() {
		now := s.now()
		task.Status = model.TaskStatusFailed
		task.ErrorMessage = fmt.Sprintf("cancelled by %s: %s", req.Level, req.Reason)
		task.CompletedAt = &now
	}
	action.After = log.Kv{"status": string(task.Status), "assigned_agent_id": task.AssignedAgentID}

	if err := s.repo.CreateAction(ctx, *action); err != nil {
		return nil, fmt.Errorf("could not store action: %w", err)
	}
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return nil, fmt.Errorf("could not cancel task: %w", err)
	}

	s.logger.WithValues(log.Kv{"action": action.ID, "task": taskID, "level": req.Level.String()}).
		Infof("Task cancelled by authority override")
	s.bus.Publish(ctx, eventbus.Event{Type: "authority_cancel", EntityType: "task", EntityID: taskID, At: s.now()})
	return action, nil
}

// Reprioritize changes a task's priority tier out of band.
func (s *Service) Reprioritize(ctx context.Context, req Request, taskID string, priority model.Priority) (*model.AuthorityAction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q: %w", priority, model.ErrNotValid)
	}
	if err := s.guard(model.ActionOverridePriority, req.Level); err != nil {
		return nil, err
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get target task: %w", err)
	}

	action := s.newAction(model.ActionOverridePriority, req, taskID)
	action.Before = log.Kv{"priority": string(task.Priority)}
	action.After = log.Kv{"priority": string(priority)}

	task.Priority = priority

	if err := s.repo.CreateAction(ctx, *action); err != nil {
		return nil, fmt.Errorf("could not store action: %w", err)
	}
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return nil, fmt.Errorf("could not reprioritize task: %w", err)
	}

	s.logger.WithValues(log.Kv{"action": action.ID, "task": taskID, "priority": priority}).
		Infof("Task reprioritized by authority override")
	return action, nil
}

// ReassignCapacity changes an agent's concurrent task capacity.
func (s *Service) ReassignCapacity(ctx context.Context, req Request, agentID string, capacity int) (*model.AuthorityAction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, fmt.Errorf("capacity must not be negative: %w", model.ErrNotValid)
	}
	if err := s.guard(model.ActionReassignCapacity, req.Level); err != nil {
		return nil, err
	}

	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("could not get target agent: %w", err)
	}

	action := s.newAction(model.ActionReassignCapacity, req, agentID)
	action.Before = log.Kv{"capacity": agent.Capacity}
	action.After = log.Kv{"capacity": capacity}

	agent.Capacity = capacity
	agent.UpdatedAt = s.now()

	if err := s.repo.CreateAction(ctx, *action); err != nil {
		return nil, fmt.Errorf("could not store action: %w", err)
	}
	if err := s.repo.UpdateAgent(ctx, *agent); err != nil {
		return nil, fmt.Errorf("could not reassign capacity: %w", err)
	}

	s.logger.WithValues(log.Kv{"action": action.ID, "agent": agentID, "capacity": capacity}).
		Infof("Agent capacity reassigned by authority override")
	return action, nil
}

// BlockTicket sets the blocked overlay on a ticket out of band.
func (s *Service) BlockTicket(ctx context.Context, req Request, ticketID string) (*model.AuthorityAction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.guard(model.ActionBlockTicket, req.Level); err != nil {
		return nil, err
	}

	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not get target ticket: %w", err)
	}

	action := s.newAction(model.ActionBlockTicket, req, ticketID)
	action.Before = log.Kv{"blocked": ticket.Blocked, "blocked_reason": ticket.BlockedReason}

	now := s.now()
	ticket.Blocked = true
	ticket.BlockedReason = req.Reason
	ticket.BlockedAt = &now
	ticket.UpdatedAt = now
	action.After = log.Kv{"blocked": true, "blocked_reason": req.Reason}

	if err := s.repo.CreateAction(ctx, *action); err != nil {
		return nil, fmt.Errorf("could not store action: %w", err)
	}
	if err := s.repo.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("could not block ticket: %w", err)
	}

	s.logger.WithValues(log.Kv{"action": action.ID, "ticket": ticketID}).
		Infof("Ticket blocked by authority override")
	return action, nil
}

// Revert re-applies the inverse of a prior action and links back to it. The
// undo chain is bounded: an action that is already a revert of a revert
// cannot be reverted again.
func (s *Service) Revert(ctx context.Context, req Request, actionID string) (*model.AuthorityAction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.guard(model.ActionRevert, req.Level); err != nil {
		return nil, err
	}

	target, err := s.repo.GetAction(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("could not get target action: %w", err)
	}

	if target.Kind == model.ActionRevert && target.RevertOf != "" {
		parent, err := s.repo.GetAction(ctx, target.RevertOf)
		if err != nil {
			return nil, fmt.Errorf("could not get reverted action: %w", err)
		}
		if parent.Kind == model.ActionRevert {
			return nil, fmt.Errorf("action %s closes an undo chain, cannot revert further: %w", actionID, model.ErrNotValid)
		}
	}

	action := s.newAction(model.ActionRevert, req, target.TargetID)
	action.RevertOf = target.ID
	action.Before = target.After
	action.After = target.Before

	if err := s.repo.CreateAction(ctx, *action); err != nil {
		return nil, fmt.Errorf("could not store action: %w", err)
	}
	if err := s.applyState(ctx, target, target.Before); err != nil {
		return nil, fmt.Errorf("could not re-apply prior state: %w", err)
	}

	s.logger.WithValues(log.Kv{"action": action.ID, "reverted": target.ID}).
		Infof("Authority action reverted")
	return action, nil
}

// Actions lists the audit trail.
func (s *Service) Actions(ctx context.Context, f storage.ActionFilter) ([]model.AuthorityAction, error) {
	return s.repo.ListActions(ctx, f)
}

// applyState writes a recorded before/after snapshot back onto the entity the
// reverted action had targeted.
func (s *Service) applyState(ctx context.Context, reverted *model.AuthorityAction, state map[string]any) error {
	switch reverted.Kind {
	case model.ActionCancelTask, model.ActionOverridePriority:
		task, err := s.repo.GetTask(ctx, reverted.TargetID)
		if err != nil {
			return err
		}
		if v, ok := state["status"].(string); ok {
			task.Status = model.TaskStatus(v)
			if !task.Status.Terminal() {
				task.CompletedAt = nil
				task.ErrorMessage = ""
			}
		}
		if v, ok := state["assigned_agent_id"].(string); ok {
			task.AssignedAgentID = v
		}
		if v, ok := state["priority"].(string); ok {
			task.Priority = model.Priority(v)
		}
		return s.repo.UpdateTask(ctx, *task)

	case model.ActionReassignCapacity:
		agent, err := s.repo.GetAgent(ctx, reverted.TargetID)
		if err != nil {
			return err
		}
		if v, ok := asInt(state["capacity"]); ok {
			agent.Capacity = v
			agent.UpdatedAt = s.now()
		}
		return s.repo.UpdateAgent(ctx, *agent)

	case model.ActionBlockTicket:
		ticket, err := s.repo.GetTicket(ctx, reverted.TargetID)
		if err != nil {
			return err
		}
		if v, ok := state["blocked"].(bool); ok {
			ticket.Blocked = v
			if !v {
				ticket.BlockedReason = ""
				ticket.BlockedAt = nil
			}
		}
		if v, ok := state["blocked_reason"].(string); ok && ticket.Blocked {
			ticket.BlockedReason = v
		}
		ticket.UpdatedAt = s.now()
		return s.repo.UpdateTicket(ctx, *ticket)

	case model.ActionRevert:
		// Reverting a revert re-applies the original action's after state.
		parent, err := s.repo.GetAction(ctx, reverted.RevertOf)
		if err != nil {
			return err
		}
		return s.applyState(ctx, parent, parent.After)
	}

	return fmt.Errorf("cannot revert action kind %s: %w", reverted.Kind, model.ErrNotValid)
}

func (s *Service) newAction(kind model.ActionKind, req Request, targetID string) *model.AuthorityAction {
	return &model.AuthorityAction{
		ID:          ulid.Make().String(),
		Kind:        kind,
		Level:       req.Level,
		TargetID:    targetID,
		Reason:      req.Reason,
		InitiatedBy: req.InitiatedBy,
		CreatedAt:   s.now(),
	}
}

// asInt normalizes the numeric types a state snapshot can carry after a JSON
// round trip.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
