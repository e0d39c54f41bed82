package taskmesh

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/discovery"
	"github.com/taskmesh/taskmesh/internal/model"
)

// RecordDiscovery records something an agent found while executing a task.
// priorityBoost marks the finding as one that should raise the urgency of
// any follow-up work.
//
// Returns [ErrNotFound] if the source task does not exist, [ErrNotValid] on
// an unknown kind or empty description.
func (c *Client) RecordDiscovery(ctx context.Context, sourceTaskID string, kind DiscoveryKind, description string, priorityBoost bool) (*Discovery, error) {
	d, err := c.discovery.Record(ctx, sourceTaskID, model.DiscoveryKind(kind), description, priorityBoost)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalDiscovery(*d)
	return &result, nil
}

// BranchOpts describes the follow-up task spawned by
// [Client.RecordDiscoveryAndBranch].
type BranchOpts struct {
	// TaskType is the type of the spawned task.
	TaskType string
	// Description overrides the discovery description on the spawned task.
	Description string
	// PhaseID targets the spawned task at another phase. Empty keeps the
	// source task's phase.
	PhaseID string
	// Capabilities the spawned task requires.
	Capabilities []string
	// PriorityBoost runs the spawned task one priority tier above the
	// source, capped at CRITICAL. Without it the branch keeps the source
	// tier.
	PriorityBoost bool
}

// RecordDiscoveryAndBranch records a discovery and atomically spawns a
// follow-up task for it. The branch is immediately schedulable: it never
// depends on its source task.
func (c *Client) RecordDiscoveryAndBranch(ctx context.Context, sourceTaskID string, kind DiscoveryKind, description string, opts BranchOpts) (*Discovery, *Task, error) {
	d, branch, err := c.discovery.RecordAndBranch(ctx, sourceTaskID, model.DiscoveryKind(kind), description, discovery.BranchSpec{
		TaskType:      opts.TaskType,
		Description:   opts.Description,
		PhaseID:       opts.PhaseID,
		Capabilities:  opts.Capabilities,
		PriorityBoost: opts.PriorityBoost,
	})
	if err != nil {
		return nil, nil, mapError(err)
	}

	dResult := fromInternalDiscovery(*d)
	tResult := fromInternalTask(*branch)
	return &dResult, &tResult, nil
}

// ResolveDiscovery marks an open discovery as resolved. Closed discoveries
// stay closed: resolving a resolved or invalidated record returns
// [ErrNotValid].
func (c *Client) ResolveDiscovery(ctx context.Context, discoveryID string) error {
	return mapError(c.discovery.Resolve(ctx, discoveryID))
}

// InvalidateDiscovery marks an open discovery as invalid (a false positive).
func (c *Client) InvalidateDiscovery(ctx context.Context, discoveryID string) error {
	return mapError(c.discovery.Invalidate(ctx, discoveryID))
}

// ListDiscoveries returns discoveries recorded for a source task, or every
// discovery when sourceTaskID is empty.
func (c *Client) ListDiscoveries(ctx context.Context, sourceTaskID string) ([]Discovery, error) {
	ds, err := c.discovery.List(ctx, sourceTaskID)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalDiscoveryList(ds), nil
}
