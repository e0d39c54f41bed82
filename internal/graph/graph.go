package graph

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// ServiceConfig is the configuration for the dependency graph service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "graph.Service"})
	return nil
}

// Service maintains the task dependency graph: acyclic inserts, readiness
// checks and completion propagation.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new dependency graph service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Insert validates a task and stores it. The insert is rejected with
// model.ErrCycle when any of its dependency edges would close a cycle, before
// anything is persisted.
func (s *Service) Insert(ctx context.Context, task model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	if err := s.checkAcyclic(ctx, []model.Task{task}); err != nil {
		return err
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("could not store task: %w", err)
	}

	s.logger.WithValues(log.Kv{"task": task.ID, "ticket": task.TicketID}).
		Debugf("Task inserted into dependency graph")
	return nil
}

// InsertBatch validates and stores a group of tasks atomically. Edges between
// members of the batch are checked together with the stored graph.
func (s *Service) InsertBatch(ctx context.Context, tasks []model.Task) error {
	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			return err
		}
	}

	if err := s.checkAcyclic(ctx, tasks); err != nil {
		return err
	}

	if err := s.repo.CreateTasks(ctx, tasks); err != nil {
		return fmt.Errorf("could not store tasks: %w", err)
	}

	return nil
}

// IsUnblocked reports whether every dependency of the task is completed. A
// dependency that cannot be found counts as incomplete, the check fails
// closed rather than dispatching on missing data.
func (s *Service) IsUnblocked(ctx context.Context, taskID string) (bool, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("could not get task: %w", err)
	}

	return s.depsCompleted(ctx, task)
}

// Ready filters the given tasks down to those whose dependencies are all
// completed, resolving every dependency against a single snapshot of the
// stored graph.
func (s *Service) Ready(ctx context.Context, candidates []model.Task) ([]model.Task, error) {
	all, err := s.repo.ListTasks(ctx, storage.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}
	index := make(map[string]model.Task, len(all))
	for _, t := range all {
		index[t.ID] = t
	}

	var ready []model.Task
	for _, c := range candidates {
		ok := true
		for _, depID := range c.DependsOn {
			dep, found := index[depID]
			if !found || dep.Status != model.TaskStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, c)
		}
	}

	return ready, nil
}

// MarkCompleted flips a task to completed. Calling it on an already completed
// task is a no-op so completion events can be retried safely.
func (s *Service) MarkCompleted(ctx context.Context, taskID string) error {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	if task.Status == model.TaskStatusCompleted {
		return nil
	}

	task.Status = model.TaskStatusCompleted
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	s.logger.WithValues(log.Kv{"task": taskID}).Debugf("Task marked completed in graph")
	return nil
}

// BlockerCounts returns, for each given task ID, how many pending tasks are
// waiting on it. The count feeds the scheduler's blocker score component.
func (s *Service) BlockerCounts(ctx context.Context, taskIDs []string) (map[string]int, error) {
	pending, err := s.repo.ListTasks(ctx, storage.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusPending, model.TaskStatusAssigned, model.TaskStatusRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	counts := make(map[string]int, len(taskIDs))
	for _, id := range taskIDs {
		counts[id] = 0
	}
	for _, t := range pending {
		for _, dep := range t.DependsOn {
			if _, ok := counts[dep]; ok {
				counts[dep]++
			}
		}
	}

	return counts, nil
}

// Edge is a single dependency relation: From must complete before To may run.
type Edge struct {
	From string
	To   string
}

// Export returns the dependency graph of a ticket as node IDs and edges.
func (s *Service) Export(ctx context.Context, ticketID string) (nodes []string, edges []Edge, err error) {
	tasks, err := s.repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticketID})
	if err != nil {
		return nil, nil, fmt.Errorf("could not list tasks: %w", err)
	}

	for _, t := range tasks {
		nodes = append(nodes, t.ID)
		for _, dep := range t.DependsOn {
			edges = append(edges, Edge{From: dep, To: t.ID})
		}
	}

	return nodes, edges, nil
}

func (s *Service) depsCompleted(ctx context.Context, task *model.Task) (bool, error) {
	for _, depID := range task.DependsOn {
		dep, err := s.repo.GetTask(ctx, depID)
		if err != nil {
			// Unknown dependency: fail closed.
			s.logger.Warningf("Task %s depends on unknown task %s, treating as blocked", task.ID, depID)
			return false, nil
		}
		if dep.Status != model.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// checkAcyclic runs a DFS over the stored graph plus the incoming tasks and
// returns model.ErrCycle when a back edge is found.
func (s *Service) checkAcyclic(ctx context.Context, incoming []model.Task) error {
	stored, err := s.repo.ListTasks(ctx, storage.TaskFilter{})
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	adj := make(map[string][]string, len(stored)+len(incoming))
	for _, t := range stored {
		adj[t.ID] = t.DependsOn
	}
	for _, t := range incoming {
		adj[t.ID] = t.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(adj))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("dependency cycle through task %s: %w", id, model.ErrCycle)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range adj[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, t := range incoming {
		if err := visit(t.ID); err != nil {
			return err
		}
	}

	return nil
}
