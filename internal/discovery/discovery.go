// Package discovery implements the mid-task discovery engine: agents report
// findings while working, and a finding can branch into follow-up work
// without losing the trail back to where it was found.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// ServiceConfig is the configuration for the discovery service.
type ServiceConfig struct {
	Repository storage.Repository
	Registry   *phase.Registry
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
	if c.EventBus == nil {
		c.EventBus = eventbus.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.NowFn == nil {
		c.NowFn = time.Now
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "discovery.Service"})
	return nil
}

// Service records discoveries and branches them into new tasks.
type Service struct {
	repo     storage.Repository
	registry *phase.Registry
	bus      eventbus.Publisher
	logger   log.Logger
	now      func() time.Time
}

// NewService creates a new discovery service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:     cfg.Repository,
		registry: cfg.Registry,
		bus:      cfg.EventBus,
		logger:   cfg.Logger,
		now:      cfg.NowFn,
	}, nil
}

// Record stores a discovery without spawning any work. priorityBoost marks the
// finding as one that should raise the urgency of any follow-up work.
func (s *Service) Record(ctx context.Context, sourceTaskID string, kind model.DiscoveryKind, description string, priorityBoost bool) (*model.Discovery, error) {
	d, err := s.build(ctx, sourceTaskID, kind, description)
	if err != nil {
		return nil, err
	}
	d.PriorityBoost = priorityBoost

	if err := s.repo.CreateDiscovery(ctx, *d); err != nil {
		return nil, fmt.Errorf("could not store discovery: %w", err)
	}

	s.logger.WithValues(log.Kv{"discovery": d.ID, "task": sourceTaskID, "kind": kind}).
		Infof("Discovery recorded")
	s.bus.Publish(ctx, eventbus.Event{Type: "discovery_recorded", EntityType: "discovery", EntityID: d.ID, At: s.now()})
	return d, nil
}

// BranchSpec describes the follow-up task spawned from a discovery.
type BranchSpec struct {
	// TaskType is the type of the spawned task.
	TaskType string
	// Description overrides the discovery description on the spawned task.
	Description string
	// PhaseID targets the spawned task at another phase. Empty keeps the
	// source task's phase.
	PhaseID string
	// Capabilities the spawned task requires.
	Capabilities []string
	// PriorityBoost runs the spawned task one tier above the source task,
	// capped at CRITICAL. Without it the branch keeps the source tier.
	PriorityBoost bool
}

// RecordAndBranch stores a discovery and spawns a follow-up task from it in
// one atomic step. The branch task inherits the source task's ticket and,
// unless the spec retargets it, its phase. It does NOT depend on the source:
// the found work is schedulable immediately.
func (s *Service) RecordAndBranch(ctx context.Context, sourceTaskID string, kind model.DiscoveryKind, description string, spec BranchSpec) (*model.Discovery, *model.Task, error) {
	source, err := s.repo.GetTask(ctx, sourceTaskID)
	if err != nil {
		return nil, nil, fmt.Errorf("could not get source task: %w", err)
	}

	d, err := s.build(ctx, sourceTaskID, kind, description)
	if err != nil {
		return nil, nil, err
	}

	phaseID := spec.PhaseID
	if phaseID == "" {
		phaseID = source.PhaseID
	} else if _, err := s.registry.Get(phaseID); err != nil {
		return nil, nil, fmt.Errorf("could not resolve branch phase: %w", err)
	}

	branchDescription := spec.Description
	if branchDescription == "" {
		branchDescription = description
	}

	priority := source.Priority
	if spec.PriorityBoost {
		priority = priority.Boost()
	}

	branch := model.Task{
		ID:                   ulid.Make().String(),
		TicketID:             source.TicketID,
		PhaseID:              phaseID,
		Type:                 spec.TaskType,
		Description:          branchDescription,
		Priority:             priority,
		Status:               model.TaskStatusPending,
		ParentTaskID:         source.ID,
		RequiredCapabilities: spec.Capabilities,
		MaxRetries:           source.MaxRetries,
		Timeout:              source.Timeout,
		CreatedAt:            s.now(),
	}
	if err := branch.Validate(); err != nil {
		return nil, nil, err
	}

	d.PriorityBoost = spec.PriorityBoost
	d.SpawnedTaskIDs = []string{branch.ID}

	if err := s.repo.CreateDiscoveryAndTask(ctx, *d, branch); err != nil {
		return nil, nil, fmt.Errorf("could not store discovery branch: %w", err)
	}

	s.logger.WithValues(log.Kv{"discovery": d.ID, "task": sourceTaskID, "branch": branch.ID}).
		Infof("Discovery branched into new task")
	s.bus.Publish(ctx, eventbus.Event{Type: "discovery_branched", EntityType: "discovery", EntityID: d.ID, Payload: log.Kv{"branch": branch.ID}, At: s.now()})
	return d, &branch, nil
}

// Resolve marks a discovery as resolved.
func (s *Service) Resolve(ctx context.Context, id string) error {
	return s.close(ctx, id, model.ResolutionResolved)
}

// Invalidate marks a discovery as invalid (a false positive).
func (s *Service) Invalidate(ctx context.Context, id string) error {
	return s.close(ctx, id, model.ResolutionInvalid)
}

// List returns discoveries, optionally scoped to a source task.
func (s *Service) List(ctx context.Context, sourceTaskID string) ([]model.Discovery, error) {
	return s.repo.ListDiscoveries(ctx, sourceTaskID)
}

func (s *Service) build(ctx context.Context, sourceTaskID string, kind model.DiscoveryKind, description string) (*model.Discovery, error) {
	d := model.Discovery{
		ID:           ulid.Make().String(),
		SourceTaskID: sourceTaskID,
		Kind:         kind,
		Description:  description,
		Resolution:   model.ResolutionOpen,
		CreatedAt:    s.now(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetTask(ctx, sourceTaskID); err != nil {
		return nil, fmt.Errorf("could not get source task: %w", err)
	}

	return &d, nil
}

func (s *Service) close(ctx context.Context, id string, resolution model.ResolutionStatus) error {
	d, err := s.repo.GetDiscovery(ctx, id)
	if err != nil {
		return fmt.Errorf("could not get discovery: %w", err)
	}
	if d.Resolution != model.ResolutionOpen {
		return fmt.Errorf("discovery %s already %s: %w", id, d.Resolution, model.ErrNotValid)
	}

	now := s.now()
	d.Resolution = resolution
	d.ResolvedAt = &now
	if err := s.repo.UpdateDiscovery(ctx, *d); err != nil {
		return fmt.Errorf("could not update discovery: %w", err)
	}

	s.logger.WithValues(log.Kv{"discovery": id}).Infof("Discovery %s", resolution)
	return nil
}
