package taskmesh

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/authority"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// Override identifies who is asking for a supervisory intervention and why.
// Level and Reason are required.
type Override struct {
	// Level is the caller's authority tier. Each action kind has a minimum
	// required level; calls below it return [ErrPermission].
	Level AuthorityLevel
	// InitiatedBy names the caller for the audit trail.
	InitiatedBy string
	// Reason is the mandatory justification recorded with the action.
	Reason string
}

func (o Override) toInternal() authority.Request {
	return authority.Request{
		Level:       model.AuthorityLevel(o.Level),
		InitiatedBy: o.InitiatedBy,
		Reason:      o.Reason,
	}
}

// EmergencyCancel terminates a task out of band. Requires
// [AuthorityGuardian]. Cancelling an already terminal task records the
// action but changes nothing.
func (c *Client) EmergencyCancel(ctx context.Context, o Override, taskID string) (*AuthorityAction, error) {
	action, err := c.authority.EmergencyCancel(ctx, o.toInternal(), taskID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAction(*action)
	return &result, nil
}

// Reprioritize overrides the priority of a task. Requires [AuthorityMonitor].
func (c *Client) Reprioritize(ctx context.Context, o Override, taskID string, priority Priority) (*AuthorityAction, error) {
	action, err := c.authority.Reprioritize(ctx, o.toInternal(), taskID, model.Priority(priority))
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAction(*action)
	return &result, nil
}

// ReassignCapacity changes the concurrent task capacity of an agent.
// Requires [AuthorityMonitor].
func (c *Client) ReassignCapacity(ctx context.Context, o Override, agentID string, capacity int) (*AuthorityAction, error) {
	action, err := c.authority.ReassignCapacity(ctx, o.toInternal(), agentID, capacity)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAction(*action)
	return &result, nil
}

// EmergencyBlockTicket blocks a ticket through the audited authority path.
// Requires [AuthorityWatchdog]. Unlike [Client.BlockTicket], the intervention
// leaves an [AuthorityAction] record and can be reverted.
func (c *Client) EmergencyBlockTicket(ctx context.Context, o Override, ticketID string) (*AuthorityAction, error) {
	action, err := c.authority.BlockTicket(ctx, o.toInternal(), ticketID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAction(*action)
	return &result, nil
}

// RevertAction undoes a previous authority action, restoring the before
// snapshot it recorded. Requires [AuthorityGuardian]. The revert itself is a
// new audit record linked to its target; revert chains are bounded, a revert
// of a revert of a revert is rejected.
func (c *Client) RevertAction(ctx context.Context, o Override, actionID string) (*AuthorityAction, error) {
	action, err := c.authority.Revert(ctx, o.toInternal(), actionID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAction(*action)
	return &result, nil
}

// ListActionsOpts narrows authority action listings. Zero values mean "any".
type ListActionsOpts struct {
	// Kind filters by action kind (e.g. "cancel_task").
	Kind string
	// TargetID filters by the acted-on entity.
	TargetID string
	// Limit caps the number of returned actions. Zero means no cap.
	Limit int
}

// ListActions returns the authority audit trail, newest first. Pass nil opts
// to list everything.
func (c *Client) ListActions(ctx context.Context, opts *ListActionsOpts) ([]AuthorityAction, error) {
	f := storage.ActionFilter{}
	if opts != nil {
		f.Kind = model.ActionKind(opts.Kind)
		f.TargetID = opts.TargetID
		f.Limit = opts.Limit
	}

	actions, err := c.authority.Actions(ctx, f)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalActionList(actions), nil
}
