package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository. Used by
// tests and ephemeral runs; all methods are safe for concurrent use.
type Repository struct {
	mu          sync.RWMutex
	tasks       map[string]model.Task
	tickets     map[string]model.Ticket
	discoveries map[string]model.Discovery
	actions     map[string]model.AuthorityAction
	agents      map[string]model.Agent
	history     []storage.PhaseHistoryEntry
	logger      log.Logger
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:       map[string]model.Task{},
		tickets:     map[string]model.Ticket{},
		discoveries: map[string]model.Discovery{},
		actions:     map[string]model.AuthorityAction{},
		agents:      map[string]model.Agent{},
		logger:      cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createTaskLocked(t)
}

// CreateTasks creates a batch of tasks, all or nothing.
func (r *Repository) CreateTasks(ctx context.Context, tasks []model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tasks {
		if _, ok := r.tasks[t.ID]; ok {
			return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		}
	}
	for _, t := range tasks {
		if err := r.createTaskLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) createTaskLocked(t model.Task) error {
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	r.tasks[t.ID] = copyTask(t)
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	taskCopy := copyTask(t)
	return &taskCopy, nil
}

// ListTasks returns tasks matching the filter, ordered by creation time.
func (r *Repository) ListTasks(ctx context.Context, f storage.TaskFilter) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Task
	for _, t := range r.tasks {
		if !matchesFilter(t, f) {
			continue
		}
		out = append(out, copyTask(t))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// UpdateTask updates an existing task.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}

	r.tasks[t.ID] = copyTask(t)
	r.logger.Debugf("Updated task in repository: %s", t.ID)
	return nil
}

// ClaimTask atomically transitions a pending task to assigned.
func (r *Repository) ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if t.Status != model.TaskStatusPending {
		return nil, fmt.Errorf("task %s has status %s: %w", taskID, t.Status, model.ErrAlreadyAssigned)
	}

	t.Status = model.TaskStatusAssigned
	t.AssignedAgentID = agentID
	r.tasks[taskID] = t

	taskCopy := copyTask(t)
	return &taskCopy, nil
}

// CreateTicket creates a new ticket in the repository.
func (r *Repository) CreateTicket(ctx context.Context, t model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.tickets[t.ID] = t
	r.logger.Debugf("Created ticket in repository: %s", t.ID)
	return nil
}

// GetTicket retrieves a ticket by ID.
func (r *Repository) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, model.ErrNotFound)
	}

	ticketCopy := t
	return &ticketCopy, nil
}

// ListTickets returns all tickets ordered by creation time.
func (r *Repository) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// UpdateTicket updates an existing ticket.
func (r *Repository) UpdateTicket(ctx context.Context, t model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[t.ID]; !ok {
		return fmt.Errorf("ticket %s: %w", t.ID, model.ErrNotFound)
	}

	r.tickets[t.ID] = t
	return nil
}

// CreateDiscovery creates a new discovery record.
func (r *Repository) CreateDiscovery(ctx context.Context, d model.Discovery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createDiscoveryLocked(d)
}

// CreateDiscoveryAndTask stores a discovery and its branch task atomically.
func (r *Repository) CreateDiscoveryAndTask(ctx context.Context, d model.Discovery, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	if err := r.createDiscoveryLocked(d); err != nil {
		return err
	}
	return r.createTaskLocked(t)
}

func (r *Repository) createDiscoveryLocked(d model.Discovery) error {
	if _, ok := r.discoveries[d.ID]; ok {
		return fmt.Errorf("discovery %s: %w", d.ID, model.ErrAlreadyExists)
	}
	r.discoveries[d.ID] = copyDiscovery(d)
	r.logger.Debugf("Created discovery in repository: %s", d.ID)
	return nil
}

// GetDiscovery retrieves a discovery by ID.
func (r *Repository) GetDiscovery(ctx context.Context, id string) (*model.Discovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.discoveries[id]
	if !ok {
		return nil, fmt.Errorf("discovery %s: %w", id, model.ErrNotFound)
	}

	discoveryCopy := copyDiscovery(d)
	return &discoveryCopy, nil
}

// ListDiscoveries returns discoveries, optionally filtered by source task.
func (r *Repository) ListDiscoveries(ctx context.Context, sourceTaskID string) ([]model.Discovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Discovery
	for _, d := range r.discoveries {
		if sourceTaskID != "" && d.SourceTaskID != sourceTaskID {
			continue
		}
		out = append(out, copyDiscovery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// UpdateDiscovery updates an existing discovery.
func (r *Repository) UpdateDiscovery(ctx context.Context, d model.Discovery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discoveries[d.ID]; !ok {
		return fmt.Errorf("discovery %s: %w", d.ID, model.ErrNotFound)
	}

	r.discoveries[d.ID] = copyDiscovery(d)
	return nil
}

// CreateAction appends an authority action to the audit trail.
func (r *Repository) CreateAction(ctx context.Context, a model.AuthorityAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[a.ID]; ok {
		return fmt.Errorf("action %s: %w", a.ID, model.ErrAlreadyExists)
	}

	r.actions[a.ID] = copyAction(a)
	r.logger.Debugf("Created authority action in repository: %s", a.ID)
	return nil
}

// GetAction retrieves an authority action by ID.
func (r *Repository) GetAction(ctx context.Context, id string) (*model.AuthorityAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, model.ErrNotFound)
	}

	actionCopy := copyAction(a)
	return &actionCopy, nil
}

// ListActions returns authority actions, most recent first.
func (r *Repository) ListActions(ctx context.Context, f storage.ActionFilter) ([]model.AuthorityAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.AuthorityAction
	for _, a := range r.actions {
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		if f.TargetID != "" && a.TargetID != f.TargetID {
			continue
		}
		out = append(out, copyAction(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

// CreateAgent creates a new agent record.
func (r *Repository) CreateAgent(ctx context.Context, a model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; ok {
		return fmt.Errorf("agent %s: %w", a.ID, model.ErrAlreadyExists)
	}

	r.agents[a.ID] = copyAgent(a)
	return nil
}

// GetAgent retrieves an agent by ID.
func (r *Repository) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, model.ErrNotFound)
	}

	agentCopy := copyAgent(a)
	return &agentCopy, nil
}

// ListAgents returns all agents.
func (r *Repository) ListAgents(ctx context.Context) ([]model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// UpdateAgent updates an existing agent.
func (r *Repository) UpdateAgent(ctx context.Context, a model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; !ok {
		return fmt.Errorf("agent %s: %w", a.ID, model.ErrNotFound)
	}

	r.agents[a.ID] = copyAgent(a)
	return nil
}

// AddPhaseHistory appends a phase transition record.
func (r *Repository) AddPhaseHistory(ctx context.Context, e storage.PhaseHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, e)
	return nil
}

// ListPhaseHistory returns the phase transitions of a ticket in order.
func (r *Repository) ListPhaseHistory(ctx context.Context, ticketID string) ([]storage.PhaseHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.PhaseHistoryEntry
	for _, e := range r.history {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}

	return out, nil
}

func matchesFilter(t model.Task, f storage.TaskFilter) bool {
	if f.TicketID != "" && t.TicketID != f.TicketID {
		return false
	}
	if f.PhaseID != "" && t.PhaseID != f.PhaseID {
		return false
	}
	if f.AssignedAgentID != "" && t.AssignedAgentID != f.AssignedAgentID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyTask(t model.Task) model.Task {
	t.DependsOn = append([]string(nil), t.DependsOn...)
	t.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	t.Deadline = copyTime(t.Deadline)
	t.StartedAt = copyTime(t.StartedAt)
	t.CompletedAt = copyTime(t.CompletedAt)
	if t.Result != nil {
		res := *t.Result
		res.Artifacts = append([]model.Artifact(nil), t.Result.Artifacts...)
		res.Data = copyMap(t.Result.Data)
		t.Result = &res
	}
	return t
}

func copyDiscovery(d model.Discovery) model.Discovery {
	d.SpawnedTaskIDs = append([]string(nil), d.SpawnedTaskIDs...)
	d.ResolvedAt = copyTime(d.ResolvedAt)
	return d
}

func copyAction(a model.AuthorityAction) model.AuthorityAction {
	a.Before = copyMap(a.Before)
	a.After = copyMap(a.After)
	return a
}

func copyAgent(a model.Agent) model.Agent {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
