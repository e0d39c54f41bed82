package taskmesh

import (
	"errors"
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage"
)

var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned on invalid input or operations.
	ErrNotValid = errors.New("not valid")
	// ErrCycle is returned when a task dependency would close a cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidTransition is returned on an illegal ticket status move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPermission is returned when an authority level is below the operation threshold.
	ErrPermission = errors.New("insufficient authority")
	// ErrNoEligibleTask is returned by [Client.NextTask] when no pending task
	// matches the requesting agent.
	ErrNoEligibleTask = errors.New("no eligible task")
)

// Priority is the priority tier of a task or ticket.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// TaskStatus is the lifecycle state of a task.
//
// The typical lifecycle is:
//
//	pending -> assigned -> running -> completed
//
// A failed task is retried (back to pending) until retries are exhausted,
// then stays failed.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TicketStatus is the Kanban status of a ticket.
type TicketStatus string

const (
	TicketStatusBacklog      TicketStatus = "backlog"
	TicketStatusAnalyzing    TicketStatus = "analyzing"
	TicketStatusBuilding     TicketStatus = "building"
	TicketStatusBuildingDone TicketStatus = "building_done"
	TicketStatusTesting      TicketStatus = "testing"
	TicketStatusDone         TicketStatus = "done"
)

// DiscoveryKind classifies what an agent found mid-task.
type DiscoveryKind string

const (
	DiscoveryBug                 DiscoveryKind = "bug"
	DiscoveryOptimization        DiscoveryKind = "optimization"
	DiscoveryClarificationNeeded DiscoveryKind = "clarification_needed"
	DiscoveryNewComponent        DiscoveryKind = "new_component"
	DiscoverySecurity            DiscoveryKind = "security"
	DiscoveryPerformance         DiscoveryKind = "performance"
	DiscoveryMissingRequirement  DiscoveryKind = "missing_requirement"
	DiscoveryIntegrationIssue    DiscoveryKind = "integration_issue"
	DiscoveryTechnicalDebt       DiscoveryKind = "technical_debt"

	// DiscoveryDiagnostic is recorded by housekeeping when a task exhausts
	// its retries, leaving a trail for supervisory roles.
	DiscoveryDiagnostic DiscoveryKind = "diagnostic_no_result"
)

// ResolutionStatus is the lifecycle of a discovery record.
type ResolutionStatus string

const (
	ResolutionOpen     ResolutionStatus = "open"
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionInvalid  ResolutionStatus = "invalid"
)

// AuthorityLevel is a ranked permission tier governing who may override
// scheduling decisions. Higher values outrank lower ones.
type AuthorityLevel int

const (
	AuthorityWorker   AuthorityLevel = 1
	AuthorityWatchdog AuthorityLevel = 2
	AuthorityMonitor  AuthorityLevel = 3
	AuthorityGuardian AuthorityLevel = 4
	AuthoritySystem   AuthorityLevel = 5
)

// AgentStatus is the availability of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusOffline AgentStatus = "offline"
)

// Task is a read-only snapshot of a scheduler task at the time of the API
// call. Use [Client.GetTask] to get the latest state.
type Task struct {
	// ID is the unique identifier (ULID) assigned at enqueue time.
	ID string
	// TicketID is the owning ticket.
	TicketID string
	// PhaseID is the workflow phase the task belongs to.
	PhaseID string
	// Type is the free-form task type (e.g. "implement_feature").
	Type string
	// Description is the human-readable work description.
	Description string
	// Priority is the scheduling tier.
	Priority Priority
	// Status is the current lifecycle state.
	Status TaskStatus
	// DependsOn lists task IDs that must complete before this one is eligible.
	DependsOn []string
	// Deadline is an optional soft deadline influencing urgency.
	Deadline *time.Time
	// ParentTaskID links a branched task back to its discovery source.
	ParentTaskID string
	// RequiredCapabilities restricts which agents may claim the task.
	RequiredCapabilities []string
	// AssignedAgentID is the agent holding the task. Empty while pending.
	AssignedAgentID string
	// RetryCount is how many times the task has failed and been requeued.
	RetryCount int
	// MaxRetries bounds RetryCount before the task fails permanently.
	MaxRetries int
	// Timeout bounds a single execution attempt. Zero means no timeout.
	Timeout time.Duration
	// Result is the payload reported on completion. Nil until completed.
	Result *Result
	// ErrorMessage is the last failure message.
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Artifact is an output produced by a completed task.
type Artifact struct {
	Type    string
	Path    string
	Content string
}

// Result is the typed payload an agent reports when a task finishes.
type Result struct {
	// SchemaVersion declares the layout of Data.
	SchemaVersion int
	// Summary is a short human-readable outcome.
	Summary string
	// Artifacts lists the outputs produced.
	Artifacts []Artifact
	// Data carries agent-specific context.
	Data map[string]any
}

// Ticket is a coarse-grained unit of work moving through Kanban-style states.
// Blocked is an overlay orthogonal to Status: a ticket can be building and
// blocked at the same time.
type Ticket struct {
	ID          string
	Title       string
	Description string
	// PhaseID is the current workflow phase.
	PhaseID string
	// Status is the Kanban column derived from the phase.
	Status   TicketStatus
	Priority Priority

	Blocked       bool
	BlockedReason string
	BlockedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Discovery records something an agent found while executing a task.
type Discovery struct {
	ID           string
	SourceTaskID string
	Kind         DiscoveryKind
	Description  string
	// SpawnedTaskIDs lists tasks branched from this discovery.
	SpawnedTaskIDs []string
	// PriorityBoost reports whether the branch was boosted one tier above
	// its source task.
	PriorityBoost bool
	Resolution    ResolutionStatus
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// AuthorityAction is the append-only audit record of a supervisory
// intervention.
type AuthorityAction struct {
	ID          string
	Kind        string
	Level       AuthorityLevel
	TargetID    string
	Reason      string
	InitiatedBy string
	// Before and After snapshot the mutated fields around the action.
	Before map[string]any
	After  map[string]any
	// RevertOf links a revert back to the action it undoes.
	RevertOf  string
	CreatedAt time.Time
}

// Agent is a registered worker that pulls tasks from the scheduler.
type Agent struct {
	ID           string
	Name         string
	Capabilities []string
	// Capacity is the number of tasks the agent may run concurrently.
	Capacity  int
	Status    AgentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhaseTransition is one recorded ticket phase move.
type PhaseTransition struct {
	TicketID       string
	FromPhase      string
	ToPhase        string
	Reason         string
	TransitionedBy string
	At             time.Time
}

// HousekeepReport summarizes one housekeeping sweep.
type HousekeepReport struct {
	// TimedOut lists tasks whose execution exceeded their timeout and were
	// failed (and requeued when retries remain).
	TimedOut []string
	// Starved lists pending tasks waiting longer than the starvation limit.
	Starved []string
	// BlockedTickets lists tickets blocked because their current phase has
	// permanently failed tasks.
	BlockedTickets []string
}

// Event is a scheduler state change notification.
type Event struct {
	// Type names the change (e.g. "task_assigned", "ticket_advanced").
	Type string
	// EntityType is the kind of entity that changed ("task", "ticket", ...).
	EntityType string
	// EntityID identifies the changed entity.
	EntityID string
	// Payload carries event-specific context.
	Payload map[string]any
	// At is when the event was published.
	At time.Time
}

// --- Internal conversion helpers ---

func fromInternalTask(t model.Task) Task {
	return Task{
		ID:                   t.ID,
		TicketID:             t.TicketID,
		PhaseID:              t.PhaseID,
		Type:                 t.Type,
		Description:          t.Description,
		Priority:             Priority(t.Priority),
		Status:               TaskStatus(t.Status),
		DependsOn:            t.DependsOn,
		Deadline:             t.Deadline,
		ParentTaskID:         t.ParentTaskID,
		RequiredCapabilities: t.RequiredCapabilities,
		AssignedAgentID:      t.AssignedAgentID,
		RetryCount:           t.RetryCount,
		MaxRetries:           t.MaxRetries,
		Timeout:              t.Timeout,
		Result:               fromInternalResult(t.Result),
		ErrorMessage:         t.ErrorMessage,
		CreatedAt:            t.CreatedAt,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
	}
}

func fromInternalTaskList(ts []model.Task) []Task {
	result := make([]Task, len(ts))
	for i, t := range ts {
		result[i] = fromInternalTask(t)
	}
	return result
}

func fromInternalResult(r *model.Result) *Result {
	if r == nil {
		return nil
	}

	artifacts := make([]Artifact, len(r.Artifacts))
	for i, a := range r.Artifacts {
		artifacts[i] = Artifact(a)
	}
	return &Result{
		SchemaVersion: r.SchemaVersion,
		Summary:       r.Summary,
		Artifacts:     artifacts,
		Data:          r.Data,
	}
}

func toInternalResult(r *Result) *model.Result {
	if r == nil {
		return nil
	}

	artifacts := make([]model.Artifact, len(r.Artifacts))
	for i, a := range r.Artifacts {
		artifacts[i] = model.Artifact(a)
	}
	return &model.Result{
		SchemaVersion: r.SchemaVersion,
		Summary:       r.Summary,
		Artifacts:     artifacts,
		Data:          r.Data,
	}
}

func fromInternalTicket(t model.Ticket) Ticket {
	return Ticket{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		PhaseID:       t.PhaseID,
		Status:        TicketStatus(t.Status),
		Priority:      Priority(t.Priority),
		Blocked:       t.Blocked,
		BlockedReason: t.BlockedReason,
		BlockedAt:     t.BlockedAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func fromInternalTicketList(ts []model.Ticket) []Ticket {
	result := make([]Ticket, len(ts))
	for i, t := range ts {
		result[i] = fromInternalTicket(t)
	}
	return result
}

func fromInternalDiscovery(d model.Discovery) Discovery {
	return Discovery{
		ID:             d.ID,
		SourceTaskID:   d.SourceTaskID,
		Kind:           DiscoveryKind(d.Kind),
		Description:    d.Description,
		SpawnedTaskIDs: d.SpawnedTaskIDs,
		PriorityBoost:  d.PriorityBoost,
		Resolution:     ResolutionStatus(d.Resolution),
		CreatedAt:      d.CreatedAt,
		ResolvedAt:     d.ResolvedAt,
	}
}

func fromInternalDiscoveryList(ds []model.Discovery) []Discovery {
	result := make([]Discovery, len(ds))
	for i, d := range ds {
		result[i] = fromInternalDiscovery(d)
	}
	return result
}

func fromInternalAction(a model.AuthorityAction) AuthorityAction {
	return AuthorityAction{
		ID:          a.ID,
		Kind:        string(a.Kind),
		Level:       AuthorityLevel(a.Level),
		TargetID:    a.TargetID,
		Reason:      a.Reason,
		InitiatedBy: a.InitiatedBy,
		Before:      a.Before,
		After:       a.After,
		RevertOf:    a.RevertOf,
		CreatedAt:   a.CreatedAt,
	}
}

func fromInternalActionList(as []model.AuthorityAction) []AuthorityAction {
	result := make([]AuthorityAction, len(as))
	for i, a := range as {
		result[i] = fromInternalAction(a)
	}
	return result
}

func fromInternalAgent(a model.Agent) Agent {
	return Agent{
		ID:           a.ID,
		Name:         a.Name,
		Capabilities: a.Capabilities,
		Capacity:     a.Capacity,
		Status:       AgentStatus(a.Status),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromInternalHistory(es []storage.PhaseHistoryEntry) []PhaseTransition {
	result := make([]PhaseTransition, len(es))
	for i, e := range es {
		result[i] = PhaseTransition{
			TicketID:       e.TicketID,
			FromPhase:      e.FromPhase,
			ToPhase:        e.ToPhase,
			Reason:         e.Reason,
			TransitionedBy: e.TransitionedBy,
			At:             e.At,
		}
	}
	return result
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrCycle):
		return joinErrors(err, ErrCycle)
	case errors.Is(err, model.ErrInvalidTransition):
		return joinErrors(err, ErrInvalidTransition)
	case errors.Is(err, model.ErrPermission):
		return joinErrors(err, ErrPermission)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, scheduler.ErrNoEligibleTask):
		return joinErrors(err, ErrNoEligibleTask)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

// mappedError keeps the original error text and chain while also matching the
// SDK-level sentinel through errors.Is.
type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
