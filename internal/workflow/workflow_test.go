package workflow_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
	"github.com/taskmesh/taskmesh/internal/workflow"
)

func newService(t *testing.T) (*workflow.Service, *memory.Repository, *scheduler.Service, *phase.Registry) {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	g, err := graph.NewService(graph.ServiceConfig{Repository: repo})
	require.NoError(t, err)

	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	sched, err := scheduler.NewService(scheduler.ServiceConfig{Repository: repo, Graph: g, Registry: reg})
	require.NoError(t, err)

	svc, err := workflow.NewService(workflow.ServiceConfig{
		Repository: repo,
		Registry:   reg,
		Scheduler:  sched,
	})
	require.NoError(t, err)

	return svc, repo, sched, reg
}

// phaseResult builds a result carrying one artifact per expected output of
// the phase, so a completion passes the advancement gate.
func phaseResult(t *testing.T, reg *phase.Registry, phaseID string) *model.Result {
	t.Helper()
	ph, err := reg.Get(phaseID)
	require.NoError(t, err)

	res := &model.Result{SchemaVersion: 1, Summary: "done"}
	for _, out := range ph.ExpectedOutputs {
		res.Artifacts = append(res.Artifacts, model.Artifact{
			Type: out.Type,
			Path: strings.ReplaceAll(out.Pattern, "*", "out"),
		})
	}
	return res
}

// completePhaseTasks completes every task of the ticket's current phase with
// the artifacts the phase expects.
func completePhaseTasks(ctx context.Context, t *testing.T, repo *memory.Repository, sched *scheduler.Service, reg *phase.Registry, ticket *model.Ticket) {
	t.Helper()
	tasks, err := repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: ticket.PhaseID})
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, sched.Complete(ctx, task.ID, phaseResult(t, reg, ticket.PhaseID)))
	}
}

func TestCreateTicket(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "escape handling is broken", model.PriorityHigh)
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "PHASE_BACKLOG", ticket.PhaseID)
	assert.Equal(t, model.TicketStatusBacklog, ticket.Status)
	assert.False(t, ticket.Blocked)

	// The backlog phase has no templates, nothing is materialized yet.
	tasks, err := repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = svc.CreateTicket(ctx, "", "", model.PriorityHigh)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityHigh)
	require.NoError(t, err)

	// Explicit move out of the backlog.
	moved, err := svc.Transition(ctx, ticket.ID, "PHASE_REQUIREMENTS", "operator", "triaged")
	require.NoError(t, err)
	assert.Equal(t, "PHASE_REQUIREMENTS", moved.PhaseID)
	assert.Equal(t, "PHASE_BACKLOG", moved.PreviousPhaseID)
	assert.Equal(t, model.TicketStatusAnalyzing, moved.Status)

	// The requirements phase template materialized, inheriting the ticket
	// priority.
	tasks, err := repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: "PHASE_REQUIREMENTS"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "analyze_requirements", tasks[0].Type)
	assert.Equal(t, model.TaskStatusPending, tasks[0].Status)

	// Phase successor graph forbids jumping ahead.
	_, err = svc.Transition(ctx, ticket.ID, "PHASE_TESTING", "operator", "skipping ahead")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	// Unknown phases are rejected.
	_, err = svc.Transition(ctx, ticket.ID, "PHASE_GHOST", "operator", "nowhere")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// History has exactly the one real move.
	history, err := svc.History(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "PHASE_BACKLOG", history[0].FromPhase)
	assert.Equal(t, "PHASE_REQUIREMENTS", history[0].ToPhase)
	assert.Equal(t, "operator", history[0].TransitionedBy)
	assert.Equal(t, "triaged", history[0].Reason)
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	svc, repo, sched, reg := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityMedium)
	require.NoError(t, err)

	// Backlog has no tasks: not complete, no advancement.
	got, advanced, err := svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, "PHASE_BACKLOG", got.PhaseID)

	ticket, err = svc.Transition(ctx, ticket.ID, "PHASE_REQUIREMENTS", "operator", "triaged")
	require.NoError(t, err)

	// Pending template task: still not complete.
	_, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)

	// Walk the whole chain to the terminal phase by completing each phase.
	expected := []struct {
		phaseID string
		status  model.TicketStatus
	}{
		{"PHASE_DESIGN", model.TicketStatusAnalyzing},
		{"PHASE_IMPLEMENTATION", model.TicketStatusBuilding},
		{"PHASE_REVIEW", model.TicketStatusBuildingDone},
		{"PHASE_TESTING", model.TicketStatusTesting},
		{"PHASE_DEPLOYMENT", model.TicketStatusDone},
	}
	for _, step := range expected {
		completePhaseTasks(ctx, t, repo, sched, reg, ticket)

		ticket, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
		require.NoError(t, err)
		require.True(t, advanced, "expected advancement to %s", step.phaseID)
		assert.Equal(t, step.phaseID, ticket.PhaseID)
		assert.Equal(t, step.status, ticket.Status)
	}

	// Terminal: no further advancement.
	_, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)

	history, err := svc.History(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, history, 6)
}

func TestAdvanceSkipsBlockedTickets(t *testing.T) {
	ctx := context.Background()
	svc, repo, sched, reg := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityMedium)
	require.NoError(t, err)
	ticket, err = svc.Transition(ctx, ticket.ID, "PHASE_REQUIREMENTS", "operator", "triaged")
	require.NoError(t, err)

	completePhaseTasks(ctx, t, repo, sched, reg, ticket)
	_, err = svc.Block(ctx, ticket.ID, "waiting on stakeholder")
	require.NoError(t, err)

	// Blocked tickets do not advance even with a complete phase.
	got, advanced, err := svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, "PHASE_REQUIREMENTS", got.PhaseID)

	_, err = svc.Unblock(ctx, ticket.ID)
	require.NoError(t, err)

	_, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.True(t, advanced)
}

func TestBlockUnblockIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityMedium)
	require.NoError(t, err)

	blocked, err := svc.Block(ctx, ticket.ID, "first reason")
	require.NoError(t, err)
	assert.True(t, blocked.Blocked)
	assert.Equal(t, "first reason", blocked.BlockedReason)
	require.NotNil(t, blocked.BlockedAt)

	// A second block keeps the original reason.
	blocked, err = svc.Block(ctx, ticket.ID, "second reason")
	require.NoError(t, err)
	assert.Equal(t, "first reason", blocked.BlockedReason)

	unblocked, err := svc.Unblock(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, unblocked.Blocked)
	assert.Empty(t, unblocked.BlockedReason)
	assert.Nil(t, unblocked.BlockedAt)

	// Unblocking an unblocked ticket is a no-op.
	_, err = svc.Unblock(ctx, ticket.ID)
	require.NoError(t, err)

	_, err = svc.Block(ctx, "ghost", "anything")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegressionDoesNotDuplicateTasks(t *testing.T) {
	ctx := context.Background()
	svc, repo, sched, reg := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityMedium)
	require.NoError(t, err)

	// Drive the ticket to the testing phase.
	ticket, err = svc.Transition(ctx, ticket.ID, "PHASE_REQUIREMENTS", "operator", "triaged")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		completePhaseTasks(ctx, t, repo, sched, reg, ticket)
		var advanced bool
		ticket, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
		require.NoError(t, err)
		require.True(t, advanced)
	}
	require.Equal(t, "PHASE_TESTING", ticket.PhaseID)

	// Validation fails: regress to implementation.
	ticket, err = svc.Transition(ctx, ticket.ID, "PHASE_IMPLEMENTATION", "operator", "validation failed")
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusBuilding, ticket.Status)

	// The implementation tasks from the first pass are still there, the
	// regression must not materialize duplicates.
	tasks, err := repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: "PHASE_IMPLEMENTATION"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestAdvanceRequiresPhaseOutputs(t *testing.T) {
	ctx := context.Background()
	svc, repo, sched, _ := newService(t)

	ticket, err := svc.CreateTicket(ctx, "Harden the parser", "", model.PriorityMedium)
	require.NoError(t, err)
	ticket, err = svc.Transition(ctx, ticket.ID, "PHASE_REQUIREMENTS", "operator", "triaged")
	require.NoError(t, err)

	tasks, err := repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: "PHASE_REQUIREMENTS"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// Completed, but the result carries no document artifact: the phase
	// expects a requirements document, so the ticket stays put.
	require.NoError(t, sched.Complete(ctx, tasks[0].ID, &model.Result{SchemaVersion: 1, Summary: "done"}))

	got, advanced, err := svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, "PHASE_REQUIREMENTS", got.PhaseID)

	// An artifact of the right type but the wrong path does not pass either.
	task, err := repo.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	task.Result = &model.Result{SchemaVersion: 1, Summary: "done", Artifacts: []model.Artifact{
		{Type: "document", Path: "notes.txt"},
	}}
	require.NoError(t, repo.UpdateTask(ctx, *task))

	_, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.False(t, advanced)

	// The expected document unlocks the advancement.
	task.Result = &model.Result{SchemaVersion: 1, Summary: "done", Artifacts: []model.Artifact{
		{Type: "document", Path: "requirements-v1.md"},
	}}
	require.NoError(t, repo.UpdateTask(ctx, *task))

	got, advanced, err = svc.Advance(ctx, ticket.ID, "scheduler")
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, "PHASE_DESIGN", got.PhaseID)
}

func TestAdvanceUnknownTicket(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)

	_, _, err := svc.Advance(ctx, "ghost", "scheduler")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
