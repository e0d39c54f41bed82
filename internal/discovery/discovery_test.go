package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/discovery"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
)

func newService(t *testing.T) (*discovery.Service, *memory.Repository) {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	svc, err := discovery.NewService(discovery.ServiceConfig{Repository: repo, Registry: reg})
	require.NoError(t, err)

	return svc, repo
}

func sourceTask(id string, priority model.Priority) model.Task {
	return model.Task{
		ID:         id,
		TicketID:   "ticket-1",
		PhaseID:    "PHASE_IMPLEMENTATION",
		Type:       "implement",
		Priority:   priority,
		Status:     model.TaskStatusRunning,
		MaxRetries: 3,
		Timeout:    30 * time.Minute,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRecord(t *testing.T) {
	tests := map[string]struct {
		source      *model.Task
		taskID      string
		kind        model.DiscoveryKind
		description string
		boost       bool
		expErr      error
	}{
		"Recording against an existing task should work": {
			source:      func() *model.Task { tk := sourceTask("task-1", model.PriorityMedium); return &tk }(),
			taskID:      "task-1",
			kind:        model.DiscoveryBug,
			description: "off by one in pagination",
		},

		"The caller decides whether the finding carries a boost": {
			source:      func() *model.Task { tk := sourceTask("task-1", model.PriorityMedium); return &tk }(),
			taskID:      "task-1",
			kind:        model.DiscoverySecurity,
			description: "token logged in plain text",
			boost:       true,
		},

		"Recording against a missing task should fail": {
			taskID:      "ghost-task",
			kind:        model.DiscoveryBug,
			description: "something",
			expErr:      model.ErrNotFound,
		},

		"An unknown kind should fail": {
			source:      func() *model.Task { tk := sourceTask("task-1", model.PriorityMedium); return &tk }(),
			taskID:      "task-1",
			kind:        "hunch",
			description: "something",
			expErr:      model.ErrNotValid,
		},

		"An empty description should fail": {
			source: func() *model.Task { tk := sourceTask("task-1", model.PriorityMedium); return &tk }(),
			taskID: "task-1",
			kind:   model.DiscoveryBug,
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newService(t)

			if test.source != nil {
				require.NoError(t, repo.CreateTask(ctx, *test.source))
			}

			d, err := svc.Record(ctx, test.taskID, test.kind, test.description, test.boost)
			if test.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, d.ID)
			assert.Equal(t, model.ResolutionOpen, d.Resolution)
			assert.Equal(t, test.boost, d.PriorityBoost)
			assert.Empty(t, d.SpawnedTaskIDs)

			stored, err := repo.GetDiscovery(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, test.description, stored.Description)
			assert.Equal(t, test.boost, stored.PriorityBoost)
		})
	}
}

func TestRecordAndBranchBoost(t *testing.T) {
	tests := map[string]struct {
		sourcePriority model.Priority
		expPriority    model.Priority
	}{
		"A medium source spawns a high branch":   {sourcePriority: model.PriorityMedium, expPriority: model.PriorityHigh},
		"A low source spawns a medium branch":    {sourcePriority: model.PriorityLow, expPriority: model.PriorityMedium},
		"A high source spawns a critical branch": {sourcePriority: model.PriorityHigh, expPriority: model.PriorityCritical},
		"A critical source caps at critical":     {sourcePriority: model.PriorityCritical, expPriority: model.PriorityCritical},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newService(t)

			require.NoError(t, repo.CreateTask(ctx, sourceTask("task-1", test.sourcePriority)))

			d, branch, err := svc.RecordAndBranch(ctx, "task-1", model.DiscoverySecurity, "token logged in plain text", discovery.BranchSpec{
				TaskType:      "fix",
				Capabilities:  []string{"golang"},
				PriorityBoost: true,
			})
			require.NoError(t, err)

			assert.Equal(t, test.expPriority, branch.Priority)
			assert.Equal(t, "ticket-1", branch.TicketID)
			assert.Equal(t, "PHASE_IMPLEMENTATION", branch.PhaseID)
			assert.Equal(t, "task-1", branch.ParentTaskID)
			assert.Equal(t, "token logged in plain text", branch.Description)
			assert.Equal(t, model.TaskStatusPending, branch.Status)
			assert.Equal(t, 3, branch.MaxRetries)
			assert.Equal(t, 30*time.Minute, branch.Timeout)

			// The branch must not wait on its source: found work is
			// schedulable immediately.
			assert.Empty(t, branch.DependsOn)

			assert.True(t, d.PriorityBoost)
			assert.Equal(t, []string{branch.ID}, d.SpawnedTaskIDs)

			// Both sides of the atomic write are present.
			_, err = repo.GetDiscovery(ctx, d.ID)
			require.NoError(t, err)
			_, err = repo.GetTask(ctx, branch.ID)
			require.NoError(t, err)
		})
	}
}

func TestRecordAndBranchWithoutBoost(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, sourceTask("task-1", model.PriorityMedium)))

	d, branch, err := svc.RecordAndBranch(ctx, "task-1", model.DiscoveryTechnicalDebt, "leftover feature flag", discovery.BranchSpec{
		TaskType: "cleanup",
	})
	require.NoError(t, err)

	// Without the boost flag the branch keeps the source tier.
	assert.Equal(t, model.PriorityMedium, branch.Priority)
	assert.False(t, d.PriorityBoost)
}

func TestRecordAndBranchTargetPhase(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, sourceTask("task-1", model.PriorityMedium)))

	_, branch, err := svc.RecordAndBranch(ctx, "task-1", model.DiscoveryMissingRequirement, "API contract change needs a design pass", discovery.BranchSpec{
		TaskType:    "revise_design",
		Description: "Revise the API design for the contract change",
		PhaseID:     "PHASE_DESIGN",
	})
	require.NoError(t, err)

	assert.Equal(t, "PHASE_DESIGN", branch.PhaseID)
	assert.Equal(t, "Revise the API design for the contract change", branch.Description)

	// Unknown target phases are rejected before anything is written.
	_, _, err = svc.RecordAndBranch(ctx, "task-1", model.DiscoveryMissingRequirement, "something", discovery.BranchSpec{
		TaskType: "fix",
		PhaseID:  "PHASE_GHOST",
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecordAndBranchMissingSource(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, _, err := svc.RecordAndBranch(ctx, "ghost-task", model.DiscoveryBug, "something", discovery.BranchSpec{TaskType: "fix"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveAndInvalidate(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, sourceTask("task-1", model.PriorityMedium)))

	d1, err := svc.Record(ctx, "task-1", model.DiscoveryBug, "first finding", false)
	require.NoError(t, err)
	d2, err := svc.Record(ctx, "task-1", model.DiscoveryPerformance, "second finding", false)
	require.NoError(t, err)

	require.NoError(t, svc.Resolve(ctx, d1.ID))
	got, err := repo.GetDiscovery(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionResolved, got.Resolution)
	require.NotNil(t, got.ResolvedAt)

	require.NoError(t, svc.Invalidate(ctx, d2.ID))
	got, err = repo.GetDiscovery(ctx, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionInvalid, got.Resolution)

	// Closed discoveries stay closed.
	assert.ErrorIs(t, svc.Resolve(ctx, d1.ID), model.ErrNotValid)
	assert.ErrorIs(t, svc.Invalidate(ctx, d1.ID), model.ErrNotValid)
	assert.ErrorIs(t, svc.Resolve(ctx, "ghost"), model.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, sourceTask("task-1", model.PriorityMedium)))
	require.NoError(t, repo.CreateTask(ctx, sourceTask("task-2", model.PriorityMedium)))

	_, err := svc.Record(ctx, "task-1", model.DiscoveryBug, "first", false)
	require.NoError(t, err)
	_, err = svc.Record(ctx, "task-2", model.DiscoveryBug, "second", false)
	require.NoError(t, err)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := svc.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "first", scoped[0].Description)
}
