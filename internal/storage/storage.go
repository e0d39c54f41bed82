package storage

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
)

// TaskFilter narrows task listings. Zero values mean "any".
type TaskFilter struct {
	TicketID        string
	PhaseID         string
	Statuses        []model.TaskStatus
	AssignedAgentID string
}

// ActionFilter narrows authority action listings.
type ActionFilter struct {
	Kind     model.ActionKind
	TargetID string
	Limit    int
}

// PhaseHistoryEntry records a single ticket phase transition.
type PhaseHistoryEntry struct {
	TicketID       string
	FromPhase      string
	ToPhase        string
	Reason         string
	TransitionedBy string
	At             time.Time
}

// TaskRepository is the persistence interface for tasks.
//
// ClaimTask is the single mandatory mutual-exclusion boundary of the whole
// core: flipping a task from pending to assigned must be atomic so that two
// concurrent callers can never both receive the same task.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	CreateTasks(ctx context.Context, tasks []model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error
	// ClaimTask atomically transitions a pending task to assigned for the
	// given agent. Returns model.ErrAlreadyAssigned when the task is no
	// longer pending, model.ErrNotFound when it does not exist.
	ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error)
}

// TicketRepository is the persistence interface for tickets.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	ListTickets(ctx context.Context) ([]model.Ticket, error)
	UpdateTicket(ctx context.Context, t model.Ticket) error
}

// DiscoveryRepository is the persistence interface for discovery records.
type DiscoveryRepository interface {
	CreateDiscovery(ctx context.Context, d model.Discovery) error
	// CreateDiscoveryAndTask stores a discovery and its spawned branch task
	// in one transaction, so a branch can never exist without its trail.
	CreateDiscoveryAndTask(ctx context.Context, d model.Discovery, t model.Task) error
	GetDiscovery(ctx context.Context, id string) (*model.Discovery, error)
	ListDiscoveries(ctx context.Context, sourceTaskID string) ([]model.Discovery, error)
	UpdateDiscovery(ctx context.Context, d model.Discovery) error
}

// ActionRepository is the append-only persistence interface for authority
// actions. There is deliberately no update or delete.
type ActionRepository interface {
	CreateAction(ctx context.Context, a model.AuthorityAction) error
	GetAction(ctx context.Context, id string) (*model.AuthorityAction, error)
	ListActions(ctx context.Context, f ActionFilter) ([]model.AuthorityAction, error)
}

// AgentRepository is the persistence interface for agent records.
type AgentRepository interface {
	CreateAgent(ctx context.Context, a model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	UpdateAgent(ctx context.Context, a model.Agent) error
}

// HistoryRepository records ticket phase transitions for audit.
type HistoryRepository interface {
	AddPhaseHistory(ctx context.Context, e PhaseHistoryEntry) error
	ListPhaseHistory(ctx context.Context, ticketID string) ([]PhaseHistoryEntry, error)
}

// Repository is the full persistence interface for the scheduler core.
type Repository interface {
	TaskRepository
	TicketRepository
	DiscoveryRepository
	ActionRepository
	AgentRepository
	HistoryRepository
}
