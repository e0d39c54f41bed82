package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
)

func newService(t *testing.T) (*graph.Service, *memory.Repository) {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	svc, err := graph.NewService(graph.ServiceConfig{Repository: repo})
	require.NoError(t, err)

	return svc, repo
}

func task(id string, deps ...string) model.Task {
	return model.Task{
		ID:        id,
		TicketID:  "ticket-1",
		PhaseID:   "PHASE_IMPLEMENTATION",
		Type:      "implement",
		Priority:  model.PriorityMedium,
		Status:    model.TaskStatusPending,
		DependsOn: deps,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInsert(t *testing.T) {
	tests := map[string]struct {
		existing []model.Task
		insert   model.Task
		expErr   error
	}{
		"Inserting a task without dependencies should work": {
			insert: task("task-1"),
		},

		"Inserting a task depending on an existing one should work": {
			existing: []model.Task{task("task-1")},
			insert:   task("task-2", "task-1"),
		},

		"A task depending on itself should be rejected": {
			insert: task("task-1", "task-1"),
			expErr: model.ErrCycle,
		},

		"An edge closing a cycle over stored tasks should be rejected": {
			// task-1 already waits on task-2, so task-2 waiting on task-1
			// closes the loop.
			existing: []model.Task{task("task-1", "task-2")},
			insert:   task("task-2", "task-1"),
			expErr:   model.ErrCycle,
		},

		"An invalid task should be rejected before any graph work": {
			insert: model.Task{ID: "task-1"},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newService(t)

			for _, e := range test.existing {
				require.NoError(t, repo.CreateTask(ctx, e))
			}

			err := svc.Insert(ctx, test.insert)
			if test.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, test.expErr)

				// Nothing may have been persisted.
				_, getErr := repo.GetTask(ctx, test.insert.ID)
				assert.ErrorIs(t, getErr, model.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInsertBatchCycleWithinBatch(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	err := svc.InsertBatch(ctx, []model.Task{
		task("task-1", "task-2"),
		task("task-2", "task-3"),
		task("task-3", "task-1"),
	})
	require.ErrorIs(t, err, model.ErrCycle)

	// The rejection happens before persistence.
	_, err = repo.GetTask(ctx, "task-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInsertBatchChain(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	err := svc.InsertBatch(ctx, []model.Task{
		task("task-1"),
		task("task-2", "task-1"),
		task("task-3", "task-1", "task-2"),
	})
	require.NoError(t, err)

	unblocked, err := svc.IsUnblocked(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, unblocked)

	unblocked, err = svc.IsUnblocked(ctx, "task-3")
	require.NoError(t, err)
	assert.False(t, unblocked)
}

func TestIsUnblockedFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	// A dependency on a task that does not exist blocks, it does not error.
	orphan := task("task-1", "ghost-task")
	require.NoError(t, repo.CreateTask(ctx, orphan))

	unblocked, err := svc.IsUnblocked(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, unblocked)
}

func TestMarkCompletedUnblocksDependents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.InsertBatch(ctx, []model.Task{
		task("task-1"),
		task("task-2", "task-1"),
	}))

	require.NoError(t, svc.MarkCompleted(ctx, "task-1"))

	unblocked, err := svc.IsUnblocked(ctx, "task-2")
	require.NoError(t, err)
	assert.True(t, unblocked)

	// Completion is idempotent.
	require.NoError(t, svc.MarkCompleted(ctx, "task-1"))

	err = svc.MarkCompleted(ctx, "ghost-task")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReady(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.InsertBatch(ctx, []model.Task{
		task("task-1"),
		task("task-2", "task-1"),
		task("task-3"),
	}))
	require.NoError(t, svc.MarkCompleted(ctx, "task-1"))

	candidates := []model.Task{task("task-2", "task-1"), task("task-3")}
	ready, err := svc.Ready(ctx, candidates)
	require.NoError(t, err)
	require.Len(t, ready, 2)

	// With task-1 still pending only task-3 would be ready.
	svc2, repo2 := newService(t)
	require.NoError(t, repo2.CreateTask(ctx, task("task-1")))
	ready, err = svc2.Ready(ctx, candidates)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "task-3", ready[0].ID)
}

func TestBlockerCounts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.InsertBatch(ctx, []model.Task{
		task("task-1"),
		task("task-2", "task-1"),
		task("task-3", "task-1"),
		task("task-4", "task-2"),
	}))

	counts, err := svc.BlockerCounts(ctx, []string{"task-1", "task-2", "task-4"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["task-1"])
	assert.Equal(t, 1, counts["task-2"])
	assert.Equal(t, 0, counts["task-4"])

	// Completed dependents no longer count as waiting.
	require.NoError(t, svc.MarkCompleted(ctx, "task-3"))
	counts, err = svc.BlockerCounts(ctx, []string{"task-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, counts["task-1"])
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, svc.InsertBatch(ctx, []model.Task{
		task("task-1"),
		task("task-2", "task-1"),
	}))

	other := task("task-9")
	other.TicketID = "ticket-2"
	require.NoError(t, repo.CreateTask(ctx, other))

	nodes, edges, err := svc.Export(ctx, "ticket-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task-1", "task-2"}, nodes)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.Edge{From: "task-1", To: "task-2"}, edges[0])
}
