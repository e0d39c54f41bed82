package scheduler_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
)

func newScheduler(t *testing.T, nowFn func() time.Time) (*scheduler.Service, *memory.Repository) {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	g, err := graph.NewService(graph.ServiceConfig{Repository: repo})
	require.NoError(t, err)

	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	svc, err := scheduler.NewService(scheduler.ServiceConfig{
		Repository: repo,
		Graph:      g,
		Registry:   reg,
		NowFn:      nowFn,
	})
	require.NoError(t, err)

	return svc, repo
}

func testTicket(id string) model.Ticket {
	return model.Ticket{
		ID: id, Title: "test ticket", PhaseID: "PHASE_IMPLEMENTATION",
		Status: model.TicketStatusBuilding, Priority: model.PriorityMedium,
	}
}

func pendingTask(id string, priority model.Priority, createdAt time.Time) model.Task {
	return model.Task{
		ID:         id,
		TicketID:   "ticket-1",
		PhaseID:    "PHASE_IMPLEMENTATION",
		Type:       "implement",
		Priority:   priority,
		Status:     model.TaskStatusPending,
		MaxRetries: 3,
		CreatedAt:  createdAt,
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	require.NoError(t, repo.CreateTicket(ctx, testTicket("ticket-1")))

	// IDs, status and creation time are filled in when missing.
	got, err := svc.Enqueue(ctx, model.Task{
		TicketID: "ticket-1",
		PhaseID:  "PHASE_IMPLEMENTATION",
		Type:     "implement",
		Priority: model.PriorityMedium,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, now, got.CreatedAt)

	stored, err := repo.GetTask(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, stored.ID)

	// Invalid tasks never reach the store.
	_, err = svc.Enqueue(ctx, model.Task{TicketID: "ticket-1"})
	assert.ErrorIs(t, err, model.ErrNotValid)

	// Unknown ticket and phase references are rejected synchronously.
	_, err = svc.Enqueue(ctx, model.Task{
		TicketID: "ghost-ticket", PhaseID: "PHASE_IMPLEMENTATION", Priority: model.PriorityMedium,
	})
	assert.ErrorIs(t, err, model.ErrNotValid)

	_, err = svc.Enqueue(ctx, model.Task{
		TicketID: "ticket-1", PhaseID: "PHASE_GHOST", Priority: model.PriorityMedium,
	})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestEnqueuePhaseTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	ticket := testTicket("ticket-1")
	ticket.Priority = model.PriorityHigh
	require.NoError(t, repo.CreateTicket(ctx, ticket))

	created, err := svc.EnqueuePhaseTasks(ctx, "ticket-1", "PHASE_IMPLEMENTATION")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "implement_feature", created[0].Type)
	assert.Equal(t, model.TaskStatusPending, created[0].Status)
	assert.Equal(t, model.PriorityMedium, created[0].Priority)
	assert.Equal(t, 3, created[0].MaxRetries)

	// A second materialization of the same phase creates nothing.
	again, err := svc.EnqueuePhaseTasks(ctx, "ticket-1", "PHASE_IMPLEMENTATION")
	require.NoError(t, err)
	assert.Empty(t, again)

	// A phase without templates creates nothing.
	none, err := svc.EnqueuePhaseTasks(ctx, "ticket-1", "PHASE_BACKLOG")
	require.NoError(t, err)
	assert.Empty(t, none)

	// Unknown ids are rejected before any mutation.
	_, err = svc.EnqueuePhaseTasks(ctx, "ghost-ticket", "PHASE_IMPLEMENTATION")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.EnqueuePhaseTasks(ctx, "ticket-1", "PHASE_GHOST")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestNextOrdering(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		tasks        []model.Task
		capabilities []string
		expFirst     string
		expErr       error
	}{
		"Higher tier wins when nothing is starved": {
			tasks: []model.Task{
				pendingTask("task-low", model.PriorityLow, now.Add(-30*time.Minute)),
				pendingTask("task-critical", model.PriorityCritical, now),
			},
			expFirst: "task-critical",
		},

		"A starved task crosses tiers through the floor": {
			tasks: []model.Task{
				// Way past the starvation limit: the clamped score beats
				// the fresh high-tier task.
				pendingTask("task-low", model.PriorityLow, now.Add(-5*time.Hour)),
				pendingTask("task-high", model.PriorityHigh, now),
			},
			expFirst: "task-low",
		},

		"Within a tier the older task wins through the age component": {
			tasks: []model.Task{
				pendingTask("task-new", model.PriorityMedium, now),
				pendingTask("task-old", model.PriorityMedium, now.Add(-30*time.Minute)),
			},
			expFirst: "task-old",
		},

		"Equal scores fall back to FIFO": {
			tasks: []model.Task{
				pendingTask("task-b", model.PriorityMedium, now.Add(-10*time.Minute)),
				pendingTask("task-a", model.PriorityMedium, now.Add(-10*time.Minute)),
			},
			// Same score and tier, ties broken by enqueue time; identical
			// times keep list order which the store sorts by ID.
			expFirst: "task-a",
		},

		"Tasks with unmet dependencies are not eligible": {
			tasks: []model.Task{
				func() model.Task {
					tk := pendingTask("task-gated", model.PriorityCritical, now)
					tk.DependsOn = []string{"task-base"}
					return tk
				}(),
				pendingTask("task-base", model.PriorityLow, now),
			},
			expFirst: "task-base",
		},

		"Capability requirements filter tasks out": {
			tasks: []model.Task{
				func() model.Task {
					tk := pendingTask("task-sql", model.PriorityCritical, now)
					tk.RequiredCapabilities = []string{"sql"}
					return tk
				}(),
				pendingTask("task-any", model.PriorityLow, now),
			},
			capabilities: []string{"golang"},
			expFirst:     "task-any",
		},

		"Agent with the capability gets the demanding task": {
			tasks: []model.Task{
				func() model.Task {
					tk := pendingTask("task-sql", model.PriorityCritical, now)
					tk.RequiredCapabilities = []string{"sql"}
					return tk
				}(),
			},
			capabilities: []string{"golang", "sql"},
			expFirst:     "task-sql",
		},

		"Empty pool yields no eligible task": {
			expErr: scheduler.ErrNoEligibleTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newScheduler(t, func() time.Time { return now })

			for _, task := range test.tasks {
				require.NoError(t, repo.CreateTask(ctx, task))
			}

			got, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", test.capabilities)
			if test.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expFirst, got.ID)
			assert.Equal(t, model.TaskStatusAssigned, got.Status)
			assert.Equal(t, "agent-1", got.AssignedAgentID)
			require.NotNil(t, got.StartedAt)
		})
	}
}

func TestNextScopedToPhase(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	task := pendingTask("task-req", model.PriorityHigh, now)
	task.PhaseID = "PHASE_REQUIREMENTS"
	require.NoError(t, repo.CreateTask(ctx, task))

	// A caller working another phase never sees the task.
	_, err := svc.Next(ctx, "agent-1", "PHASE_TESTING", nil)
	assert.ErrorIs(t, err, scheduler.ErrNoEligibleTask)

	got, err := svc.Next(ctx, "agent-1", "PHASE_REQUIREMENTS", nil)
	require.NoError(t, err)
	assert.Equal(t, "task-req", got.ID)

	// Unknown phases error instead of returning an empty pull.
	_, err = svc.Next(ctx, "agent-1", "PHASE_GHOST", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestNextSkipsBlockedTickets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	require.NoError(t, repo.CreateTicket(ctx, model.Ticket{
		ID: "ticket-1", Title: "blocked one", PhaseID: "PHASE_IMPLEMENTATION",
		Status: model.TicketStatusBuilding, Priority: model.PriorityMedium,
		Blocked: true, BlockedReason: "stuck",
	}))
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-1", model.PriorityCritical, now)))

	other := pendingTask("task-2", model.PriorityLow, now)
	other.TicketID = "ticket-2"
	require.NoError(t, repo.CreateTask(ctx, other))

	got, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	assert.Equal(t, "task-2", got.ID)
}

func TestNextBlockerCountBreaksTies(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	// Same tier and age, but task-hub unblocks two downstream tasks.
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-leaf", model.PriorityMedium, now)))
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-hub", model.PriorityMedium, now)))

	d1 := pendingTask("task-d1", model.PriorityMedium, now)
	d1.DependsOn = []string{"task-hub"}
	d2 := pendingTask("task-d2", model.PriorityMedium, now)
	d2.DependsOn = []string{"task-hub"}
	require.NoError(t, repo.CreateTask(ctx, d1))
	require.NoError(t, repo.CreateTask(ctx, d2))

	got, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	assert.Equal(t, "task-hub", got.ID)
}

func TestNextConcurrentAgents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, time.Now)

	const taskCount = 10
	for i := 0; i < taskCount; i++ {
		require.NoError(t, repo.CreateTask(ctx, pendingTask(fmt.Sprintf("task-%02d", i), model.PriorityMedium, now)))
	}

	// More agents than tasks pulling at once: every task is handed out
	// exactly once, surplus agents get ErrNoEligibleTask.
	assigned := make([]atomic.Int64, taskCount)
	var misses atomic.Int64
	var g errgroup.Group
	for i := 0; i < taskCount+5; i++ {
		agentID := fmt.Sprintf("agent-%d", i)
		g.Go(func() error {
			task, err := svc.Next(ctx, agentID, "PHASE_IMPLEMENTATION", nil)
			if err != nil {
				if err == scheduler.ErrNoEligibleTask {
					misses.Add(1)
					return nil
				}
				return err
			}
			var idx int
			if _, err := fmt.Sscanf(task.ID, "task-%02d", &idx); err != nil {
				return err
			}
			assigned[idx].Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range assigned {
		assert.Equal(t, int64(1), assigned[i].Load(), "task %d", i)
	}
	assert.Equal(t, int64(5), misses.Load())
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-1", model.PriorityMedium, now)))
	_, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)

	result := &model.Result{SchemaVersion: 1, Summary: "done"}
	require.NoError(t, svc.Complete(ctx, "task-1", result))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Summary)
	require.NotNil(t, got.CompletedAt)

	// Idempotent: a second completion changes nothing.
	require.NoError(t, svc.Complete(ctx, "task-1", nil))
	got, err = repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, got.Result)

	assert.ErrorIs(t, svc.Complete(ctx, "ghost", nil), model.ErrNotFound)
}

func TestFailRetries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	task := pendingTask("task-1", model.PriorityMedium, now)
	task.MaxRetries = 2
	require.NoError(t, repo.CreateTask(ctx, task))

	// First failure requeues.
	_, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, "task-1", "flaky network", false))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.AssignedAgentID)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, "flaky network", got.ErrorMessage)

	// Second failure still within budget.
	_, err = svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, "task-1", "flaky network", false))

	// Third failure exhausts the budget and leaves a diagnostic discovery.
	_, err = svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, "task-1", "still broken", false))

	got, err = repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.CompletedAt)

	discoveries, err := repo.ListDiscoveries(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, discoveries, 1)
	assert.Equal(t, model.DiscoveryDiagnostic, discoveries[0].Kind)

	// Failing a terminal task is rejected.
	assert.ErrorIs(t, svc.Fail(ctx, "task-1", "again", false), model.ErrNotValid)
}

func TestFailPermanent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-1", model.PriorityMedium, now)))
	_, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)

	// A permanent failure skips the retry budget entirely.
	require.NoError(t, svc.Fail(ctx, "task-1", "misconfigured job", true))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)

	discoveries, err := repo.ListDiscoveries(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, discoveries, 1)
}

func TestFailTerminalBlocksTicket(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc, repo := newScheduler(t, func() time.Time { return now })

	require.NoError(t, repo.CreateTicket(ctx, testTicket("ticket-1")))
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-dead", model.PriorityMedium, now)))
	// A pending sibling must not delay the escalation.
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-sibling", model.PriorityLow, now)))

	_, err := svc.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, "task-dead", "unfixable", true))

	// The ticket is blocked right away, no housekeeping sweep needed.
	ticket, err := repo.GetTicket(ctx, "ticket-1")
	require.NoError(t, err)
	assert.True(t, ticket.Blocked)
	assert.Equal(t, "task task-dead failed permanently", ticket.BlockedReason)

	// A retryable failure leaves the ticket alone.
	svc2, repo2 := newScheduler(t, func() time.Time { return now })
	require.NoError(t, repo2.CreateTicket(ctx, testTicket("ticket-1")))
	require.NoError(t, repo2.CreateTask(ctx, pendingTask("task-1", model.PriorityMedium, now)))
	_, err = svc2.Next(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	require.NoError(t, err)
	require.NoError(t, svc2.Fail(ctx, "task-1", "flaky", false))

	ticket, err = repo2.GetTicket(ctx, "ticket-1")
	require.NoError(t, err)
	assert.False(t, ticket.Blocked)
}

func TestHousekeep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	current := now
	svc, repo := newScheduler(t, func() time.Time { return current })

	// A running task past its timeout.
	started := now.Add(-time.Hour)
	timedOut := pendingTask("task-timeout", model.PriorityMedium, now.Add(-2*time.Hour))
	timedOut.Status = model.TaskStatusRunning
	timedOut.AssignedAgentID = "agent-1"
	timedOut.StartedAt = &started
	timedOut.Timeout = 30 * time.Minute
	require.NoError(t, repo.CreateTask(ctx, timedOut))

	// A pending task past the starvation limit.
	require.NoError(t, repo.CreateTask(ctx, pendingTask("task-starved", model.PriorityLow, now.Add(-3*time.Hour))))

	// A ticket whose current phase has a failed task written around the
	// scheduler.
	require.NoError(t, repo.CreateTicket(ctx, model.Ticket{
		ID: "ticket-stuck", Title: "stuck", PhaseID: "PHASE_IMPLEMENTATION",
		Status: model.TicketStatusBuilding, Priority: model.PriorityMedium,
	}))
	failed := pendingTask("task-failed", model.PriorityMedium, now.Add(-time.Hour))
	failed.TicketID = "ticket-stuck"
	failed.Status = model.TaskStatusFailed
	require.NoError(t, repo.CreateTask(ctx, failed))

	report, err := svc.Housekeep(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"task-timeout"}, report.TimedOut)
	assert.Contains(t, report.Starved, "task-starved")
	assert.Equal(t, []string{"ticket-stuck"}, report.BlockedTickets)

	// The timed out task went back to pending with a burned retry.
	got, err := repo.GetTask(ctx, "task-timeout")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	ticket, err := repo.GetTicket(ctx, "ticket-stuck")
	require.NoError(t, err)
	assert.True(t, ticket.Blocked)
	assert.Equal(t, "phase has permanently failed tasks", ticket.BlockedReason)

	// A second sweep leaves the already blocked ticket alone.
	report, err = svc.Housekeep(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.BlockedTickets)
}
