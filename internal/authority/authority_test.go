package authority_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/authority"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
)

func newService(t *testing.T) (*authority.Service, *memory.Repository) {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	svc, err := authority.NewService(authority.ServiceConfig{Repository: repo})
	require.NoError(t, err)

	return svc, repo
}

func runningTask(id string) model.Task {
	return model.Task{
		ID:              id,
		TicketID:        "ticket-1",
		PhaseID:         "PHASE_IMPLEMENTATION",
		Type:            "implement",
		Priority:        model.PriorityMedium,
		Status:          model.TaskStatusRunning,
		AssignedAgentID: "agent-1",
		MaxRetries:      3,
		CreatedAt:       time.Now().UTC(),
	}
}

func request(level model.AuthorityLevel) authority.Request {
	return authority.Request{Level: level, InitiatedBy: "supervisor-1", Reason: "test override"}
}

func TestPermissionGate(t *testing.T) {
	tests := map[string]struct {
		act    func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error
		level  model.AuthorityLevel
		expErr error
	}{
		"A watchdog cannot emergency cancel": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.EmergencyCancel(ctx, request(level), "task-1")
				return err
			},
			level:  model.AuthorityWatchdog,
			expErr: model.ErrPermission,
		},

		"A guardian can emergency cancel": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.EmergencyCancel(ctx, request(level), "task-1")
				return err
			},
			level: model.AuthorityGuardian,
		},

		"A worker cannot reprioritize": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.Reprioritize(ctx, request(level), "task-1", model.PriorityCritical)
				return err
			},
			level:  model.AuthorityWorker,
			expErr: model.ErrPermission,
		},

		"A monitor can reprioritize": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.Reprioritize(ctx, request(level), "task-1", model.PriorityCritical)
				return err
			},
			level: model.AuthorityMonitor,
		},

		"A watchdog can block a ticket": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.BlockTicket(ctx, request(level), "ticket-1")
				return err
			},
			level: model.AuthorityWatchdog,
		},

		"A worker cannot block a ticket": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.BlockTicket(ctx, request(level), "ticket-1")
				return err
			},
			level:  model.AuthorityWorker,
			expErr: model.ErrPermission,
		},

		"A monitor cannot revert": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.Revert(ctx, request(level), "whatever")
				return err
			},
			level:  model.AuthorityMonitor,
			expErr: model.ErrPermission,
		},

		"An unknown level is rejected before the gate": {
			act: func(ctx context.Context, svc *authority.Service, level model.AuthorityLevel) error {
				_, err := svc.EmergencyCancel(ctx, request(level), "task-1")
				return err
			},
			level:  model.AuthorityLevel(42),
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo := newService(t)

			require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))
			require.NoError(t, repo.CreateTicket(ctx, model.Ticket{
				ID: "ticket-1", Title: "t", PhaseID: "PHASE_IMPLEMENTATION",
				Status: model.TicketStatusBuilding, Priority: model.PriorityMedium,
			}))

			err := test.act(ctx, svc, test.level)
			if test.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, test.expErr)

				// A denied override leaves no audit record behind.
				actions, listErr := repo.ListActions(ctx, storage.ActionFilter{})
				require.NoError(t, listErr)
				assert.Empty(t, actions)
			} else {
				require.NoError(t, err)

				actions, listErr := repo.ListActions(ctx, storage.ActionFilter{})
				require.NoError(t, listErr)
				assert.Len(t, actions, 1)
			}
		})
	}
}

func TestEmergencyCancel(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))

	action, err := svc.EmergencyCancel(ctx, request(model.AuthorityGuardian), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionCancelTask, action.Kind)
	assert.Equal(t, "running", action.Before["status"])
	assert.Equal(t, "failed", action.After["status"])

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "cancelled by GUARDIAN")
	require.NotNil(t, got.CompletedAt)

	// Cancelling an already terminal task records the action without
	// touching the task.
	action2, err := svc.EmergencyCancel(ctx, request(model.AuthorityGuardian), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", action2.Before["status"])
	assert.Equal(t, "failed", action2.After["status"])

	_, err = svc.EmergencyCancel(ctx, request(model.AuthorityGuardian), "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReprioritize(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))

	action, err := svc.Reprioritize(ctx, request(model.AuthorityMonitor), "task-1", model.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, "MEDIUM", action.Before["priority"])
	assert.Equal(t, "CRITICAL", action.After["priority"])

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, got.Priority)

	_, err = svc.Reprioritize(ctx, request(model.AuthorityMonitor), "task-1", "URGENT")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestReassignCapacity(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateAgent(ctx, model.Agent{
		ID: "agent-1", Name: "builder-1", Capacity: 2, Status: model.AgentStatusIdle,
	}))

	action, err := svc.ReassignCapacity(ctx, request(model.AuthorityMonitor), "agent-1", 6)
	require.NoError(t, err)
	assert.Equal(t, 2, action.Before["capacity"])
	assert.Equal(t, 6, action.After["capacity"])

	got, err := repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 6, got.Capacity)

	_, err = svc.ReassignCapacity(ctx, request(model.AuthorityMonitor), "agent-1", -1)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestBlockTicket(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTicket(ctx, model.Ticket{
		ID: "ticket-1", Title: "t", PhaseID: "PHASE_IMPLEMENTATION",
		Status: model.TicketStatusBuilding, Priority: model.PriorityMedium,
	}))

	_, err := svc.BlockTicket(ctx, request(model.AuthorityWatchdog), "ticket-1")
	require.NoError(t, err)

	got, err := repo.GetTicket(ctx, "ticket-1")
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.Equal(t, "test override", got.BlockedReason)
	require.NotNil(t, got.BlockedAt)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))

	reprio, err := svc.Reprioritize(ctx, request(model.AuthorityMonitor), "task-1", model.PriorityCritical)
	require.NoError(t, err)

	revert, err := svc.Revert(ctx, request(model.AuthorityGuardian), reprio.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRevert, revert.Kind)
	assert.Equal(t, reprio.ID, revert.RevertOf)
	assert.Equal(t, reprio.After, revert.Before)
	assert.Equal(t, reprio.Before, revert.After)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityMedium, got.Priority)
}

func TestRevertCancelRestoresTask(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))

	cancel, err := svc.EmergencyCancel(ctx, request(model.AuthorityGuardian), "task-1")
	require.NoError(t, err)

	_, err = svc.Revert(ctx, request(model.AuthorityGuardian), cancel.ID)
	require.NoError(t, err)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, got.Status)
	assert.Equal(t, "agent-1", got.AssignedAgentID)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
}

func TestRevertChainIsBounded(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))

	reprio, err := svc.Reprioritize(ctx, request(model.AuthorityMonitor), "task-1", model.PriorityCritical)
	require.NoError(t, err)

	// First revert: back to MEDIUM.
	undo, err := svc.Revert(ctx, request(model.AuthorityGuardian), reprio.ID)
	require.NoError(t, err)

	// Second revert (revert of the revert): CRITICAL again.
	redo, err := svc.Revert(ctx, request(model.AuthorityGuardian), undo.ID)
	require.NoError(t, err)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, got.Priority)

	// Third revert closes the chain and is rejected.
	_, err = svc.Revert(ctx, request(model.AuthorityGuardian), redo.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestActionsTrail(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.CreateTask(ctx, runningTask("task-1")))
	require.NoError(t, repo.CreateTask(ctx, runningTask("task-2")))

	_, err := svc.Reprioritize(ctx, request(model.AuthorityMonitor), "task-1", model.PriorityHigh)
	require.NoError(t, err)
	_, err = svc.EmergencyCancel(ctx, request(model.AuthorityGuardian), "task-2")
	require.NoError(t, err)

	all, err := svc.Actions(ctx, storage.ActionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancels, err := svc.Actions(ctx, storage.ActionFilter{Kind: model.ActionCancelTask})
	require.NoError(t, err)
	require.Len(t, cancels, 1)
	assert.Equal(t, "task-2", cancels[0].TargetID)
}
