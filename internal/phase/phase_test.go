package phase_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
)

func TestRegistryDefaults(t *testing.T) {
	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	first := reg.First()
	assert.Equal(t, "PHASE_BACKLOG", first.ID)
	assert.Equal(t, model.TicketStatusBacklog, first.KanbanStatus)

	all := reg.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Sequence, all[i].Sequence)
	}

	last := all[len(all)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, model.TicketStatusDone, last.KanbanStatus)
}

func TestRegistryNext(t *testing.T) {
	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	next, err := reg.Next("PHASE_BACKLOG")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "PHASE_REQUIREMENTS", next.ID)

	// The terminal phase has no successor.
	next, err = reg.Next("PHASE_DEPLOYMENT")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = reg.Next("PHASE_GHOST")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegistryCanTransition(t *testing.T) {
	reg, err := phase.NewRegistry(phase.RegistryConfig{})
	require.NoError(t, err)

	tests := map[string]struct {
		from   string
		to     string
		expOK  bool
		expErr error
	}{
		"Backlog allows requirements":           {from: "PHASE_BACKLOG", to: "PHASE_REQUIREMENTS", expOK: true},
		"Backlog does not allow implementation": {from: "PHASE_BACKLOG", to: "PHASE_IMPLEMENTATION", expOK: false},
		"Testing allows regressing to implementation": {
			from: "PHASE_TESTING", to: "PHASE_IMPLEMENTATION", expOK: true,
		},
		"Unknown source phase errors": {from: "PHASE_GHOST", to: "PHASE_BACKLOG", expErr: model.ErrNotFound},
		"Unknown target phase errors": {from: "PHASE_BACKLOG", to: "PHASE_GHOST", expErr: model.ErrNotFound},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ok, err := reg.CanTransition(test.from, test.to)
			if test.expErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expOK, ok)
		})
	}
}

func TestRegistryValidation(t *testing.T) {
	tests := map[string]struct {
		phases []model.Phase
		expErr error
	}{
		"Duplicate phase IDs are rejected": {
			phases: []model.Phase{
				{ID: "PHASE_A", Name: "A", KanbanStatus: model.TicketStatusBacklog},
				{ID: "PHASE_A", Name: "A again", KanbanStatus: model.TicketStatusBacklog},
			},
			expErr: model.ErrAlreadyExists,
		},

		"Unknown successors are rejected": {
			phases: []model.Phase{
				{ID: "PHASE_A", Name: "A", KanbanStatus: model.TicketStatusBacklog, AllowedSuccessors: []string{"PHASE_GHOST"}},
			},
			expErr: model.ErrNotFound,
		},

		"A phase without ID is rejected": {
			phases: []model.Phase{
				{Name: "anonymous", KanbanStatus: model.TicketStatusBacklog},
			},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := phase.NewRegistry(phase.RegistryConfig{Phases: test.phases})
			require.Error(t, err)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestLoad(t *testing.T) {
	data := []byte(`
name: minimal
phases:
  - id: PHASE_START
    name: Start
    sequence: 0
    kanban_status: backlog
    allowed_successors: [PHASE_END]
    tasks:
      - type: kickoff
        description: Kick the work off
        priority: HIGH
        capabilities: [golang]
      - type: triage
        description: Triage without explicit priority
  - id: PHASE_END
    name: End
    sequence: 1
    terminal: true
    kanban_status: done
    done_criteria:
      - Everything shipped
`)

	phases, err := phase.Load(data)
	require.NoError(t, err)
	require.Len(t, phases, 2)

	start := phases[0]
	assert.Equal(t, "PHASE_START", start.ID)
	assert.Equal(t, model.TicketStatusBacklog, start.KanbanStatus)
	assert.Equal(t, []string{"PHASE_END"}, start.AllowedSuccessors)
	require.Len(t, start.TaskTemplates, 2)
	assert.Equal(t, model.PriorityHigh, start.TaskTemplates[0].Priority)
	assert.Equal(t, []string{"golang"}, start.TaskTemplates[0].RequiredCapabilities)
	// Missing template priority falls back to MEDIUM.
	assert.Equal(t, model.PriorityMedium, start.TaskTemplates[1].Priority)

	end := phases[1]
	assert.True(t, end.Terminal)
	assert.Equal(t, []string{"Everything shipped"}, end.DoneCriteria)
}

func TestLoadErrors(t *testing.T) {
	_, err := phase.Load([]byte("name: empty\nphases: []\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotValid)

	_, err = phase.Load([]byte("{not yaml"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	data := `
name: minimal
phases:
  - id: PHASE_ONLY
    name: Only
    sequence: 0
    terminal: true
    kanban_status: done
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	phases, err := phase.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, "PHASE_ONLY", phases[0].ID)

	_, err = phase.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultWorkflowIsRegistrable(t *testing.T) {
	// The built-in workflow must survive its own validation and form a chain
	// the ticket state machine accepts.
	reg, err := phase.NewRegistry(phase.RegistryConfig{Phases: phase.DefaultWorkflow()})
	require.NoError(t, err)

	current := reg.First()
	for {
		next, err := reg.Next(current.ID)
		require.NoError(t, err)
		if next == nil {
			break
		}

		ok := model.ValidTicketTransition(current.KanbanStatus, next.KanbanStatus, false)
		sameStatus := current.KanbanStatus == next.KanbanStatus
		assert.True(t, ok || sameStatus, "phase %s (%s) -> %s (%s)", current.ID, current.KanbanStatus, next.ID, next.KanbanStatus)

		current = *next
	}

	assert.True(t, current.Terminal)
}
