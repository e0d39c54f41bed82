package taskmesh

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// EnqueueTaskOpts configures task creation.
//
// TicketID, PhaseID and Priority are required. Dependencies are cycle-checked
// at enqueue time.
type EnqueueTaskOpts struct {
	// TicketID is the owning ticket (required).
	TicketID string
	// PhaseID is the workflow phase the task belongs to (required).
	PhaseID string
	// Type is the free-form task type.
	Type string
	// Description is the human-readable work description.
	Description string
	// Priority is the scheduling tier (required).
	Priority Priority
	// DependsOn lists task IDs that must complete first.
	DependsOn []string
	// Deadline is an optional soft deadline influencing urgency.
	Deadline *time.Time
	// RequiredCapabilities restricts which agents may claim the task.
	RequiredCapabilities []string
	// MaxRetries bounds how many times a failed task is requeued.
	MaxRetries int
	// Timeout bounds a single execution attempt. Zero means no timeout.
	Timeout time.Duration
}

// EnqueueTask validates and stores a new pending task.
//
// Returns [ErrNotValid] on invalid input, [ErrCycle] if the dependency edges
// would close a cycle.
func (c *Client) EnqueueTask(ctx context.Context, opts EnqueueTaskOpts) (*Task, error) {
	task, err := c.scheduler.Enqueue(ctx, model.Task{
		TicketID:             opts.TicketID,
		PhaseID:              opts.PhaseID,
		Type:                 opts.Type,
		Description:          opts.Description,
		Priority:             model.Priority(opts.Priority),
		DependsOn:            opts.DependsOn,
		Deadline:             opts.Deadline,
		RequiredCapabilities: opts.RequiredCapabilities,
		MaxRetries:           opts.MaxRetries,
		Timeout:              opts.Timeout,
	})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*task)
	return &result, nil
}

// NextTask returns the best eligible pending task of a phase for the agent
// and atomically assigns it. A task is eligible when it belongs to the given
// phase, its dependencies are all completed, its ticket is not blocked, and
// the agent capabilities cover the task's requirements.
//
// Returns [ErrNotFound] on an unknown phase and [ErrNoEligibleTask] when
// nothing matches.
func (c *Client) NextTask(ctx context.Context, agentID, phaseID string, capabilities []string) (*Task, error) {
	task, err := c.scheduler.Next(ctx, agentID, phaseID, capabilities)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*task)
	return &result, nil
}

// EnqueuePhaseTasks materializes a phase's task templates for a ticket and
// returns the created tasks. It is idempotent: when the ticket already has
// tasks in that phase, nothing new is created. Phases without templates
// create nothing. The workflow advancement does this automatically; use it
// to materialize a phase entered out of band.
func (c *Client) EnqueuePhaseTasks(ctx context.Context, ticketID, phaseID string) ([]Task, error) {
	tasks, err := c.scheduler.EnqueuePhaseTasks(ctx, ticketID, phaseID)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTaskList(tasks), nil
}

// CompleteTask records a successful result for a task. Completing an already
// completed task is a no-op.
func (c *Client) CompleteTask(ctx context.Context, taskID string, result *Result) error {
	return mapError(c.scheduler.Complete(ctx, taskID, toInternalResult(result)))
}

// FailTask records a failed attempt. Retryable failures re-enter the pending
// pool with an incremented retry count until the budget runs out; permanent
// failures and exhausted budgets terminate the task and leave a diagnostic
// discovery behind.
func (c *Client) FailTask(ctx context.Context, taskID, errorMessage string, permanent bool) error {
	return mapError(c.scheduler.Fail(ctx, taskID, errorMessage, permanent))
}

// GetTask returns a task by ID.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	task, err := c.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*task)
	return &result, nil
}

// ListTasksOpts narrows task listings. Zero values mean "any".
type ListTasksOpts struct {
	TicketID        string
	PhaseID         string
	Statuses        []TaskStatus
	AssignedAgentID string
}

// ListTasks returns tasks matching the filter, ordered by creation time.
// Pass nil opts to list everything.
func (c *Client) ListTasks(ctx context.Context, opts *ListTasksOpts) ([]Task, error) {
	f := storage.TaskFilter{}
	if opts != nil {
		f.TicketID = opts.TicketID
		f.PhaseID = opts.PhaseID
		f.AssignedAgentID = opts.AssignedAgentID
		for _, s := range opts.Statuses {
			f.Statuses = append(f.Statuses, model.TaskStatus(s))
		}
	}

	tasks, err := c.repo.ListTasks(ctx, f)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTaskList(tasks), nil
}

// Housekeep sweeps for timed out assignments, starved pending tasks and
// tickets with no way forward. Meant to run periodically.
func (c *Client) Housekeep(ctx context.Context) (*HousekeepReport, error) {
	report, err := c.scheduler.Housekeep(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return &HousekeepReport{
		TimedOut:       report.TimedOut,
		Starved:        report.Starved,
		BlockedTickets: report.BlockedTickets,
	}, nil
}

// TaskGraphEdge is one dependency edge of a ticket's task graph, pointing
// from a task to one of its dependencies.
type TaskGraphEdge struct {
	From string
	To   string
}

// TaskGraph returns the task IDs and dependency edges of a ticket.
func (c *Client) TaskGraph(ctx context.Context, ticketID string) (nodes []string, edges []TaskGraphEdge, err error) {
	ns, es, err := c.graph.Export(ctx, ticketID)
	if err != nil {
		return nil, nil, mapError(err)
	}

	edges = make([]TaskGraphEdge, len(es))
	for i, e := range es {
		edges[i] = TaskGraphEdge{From: e.From, To: e.To}
	}
	return ns, edges, nil
}
