package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// ErrNoEligibleTask is returned by Next when no pending task matches the
// requesting agent.
var ErrNoEligibleTask = errors.New("no eligible task")

// ServiceConfig is the configuration for the scheduler service.
type ServiceConfig struct {
	Repository storage.Repository
	Graph      *graph.Service
	Registry   *phase.Registry
	Scorer     ScorerConfig
	EventBus   eventbus.Publisher
	Logger     log.Logger

	// DefaultMaxRetries and DefaultTaskTimeout apply to tasks materialized
	// from phase templates.
	DefaultMaxRetries  int
	DefaultTaskTimeout time.Duration

	// NowFn abstracts the clock, mainly for tests.
	NowFn func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Graph == nil {
		return fmt.Errorf("graph service is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("phase registry is required")
	}
	if c.EventBus == nil {
		c.EventBus = eventbus.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.DefaultMaxRetries == 0 {
		c.DefaultMaxRetries = 3
	}
	if c.DefaultTaskTimeout == 0 {
		c.DefaultTaskTimeout = 30 * time.Minute
	}
	if c.NowFn == nil {
		c.NowFn = time.Now
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "scheduler.Service"})
	return nil
}

// Service is the priority scheduler: it scores the pending task pool on every
// pull and hands out the best eligible task under an atomic claim.
type Service struct {
	repo       storage.Repository
	graph      *graph.Service
	registry   *phase.Registry
	scorer     *Scorer
	bus        eventbus.Publisher
	logger     log.Logger
	maxRetries int
	timeout    time.Duration
	now        func() time.Time
}

// NewService creates a new scheduler service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:       cfg.Repository,
		graph:      cfg.Graph,
		registry:   cfg.Registry,
		scorer:     NewScorer(cfg.Scorer),
		bus:        cfg.EventBus,
		logger:     cfg.Logger,
		maxRetries: cfg.DefaultMaxRetries,
		timeout:    cfg.DefaultTaskTimeout,
		now:        cfg.NowFn,
	}, nil
}

// Enqueue validates and stores a new pending task. The owning ticket and
// phase must exist, and the dependency edges are cycle-checked first.
func (s *Service) Enqueue(ctx context.Context, task model.Task) (*model.Task, error) {
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}

	if err := s.checkRefs(ctx, task); err != nil {
		return nil, err
	}

	if err := s.graph.Insert(ctx, task); err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.Event{Type: "task_enqueued", EntityType: "task", EntityID: task.ID})
	return &task, nil
}

// EnqueueBatch stores a group of tasks atomically.
func (s *Service) EnqueueBatch(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	now := s.now()
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = ulid.Make().String()
		}
		if tasks[i].Status == "" {
			tasks[i].Status = model.TaskStatusPending
		}
		if tasks[i].CreatedAt.IsZero() {
			tasks[i].CreatedAt = now
		}
		if err := s.checkRefs(ctx, tasks[i]); err != nil {
			return nil, err
		}
	}

	if err := s.graph.InsertBatch(ctx, tasks); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		s.publish(ctx, eventbus.Event{Type: "task_enqueued", EntityType: "task", EntityID: t.ID})
	}
	return tasks, nil
}

// EnqueuePhaseTasks materializes the phase's task templates for a ticket and
// returns the created tasks. It is idempotent: when the ticket already has
// tasks in that phase nothing new is created, so a regression back to a
// worked phase does not duplicate work.
func (s *Service) EnqueuePhaseTasks(ctx context.Context, ticketID, phaseID string) ([]model.Task, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not get ticket: %w", err)
	}
	target, err := s.registry.Get(phaseID)
	if err != nil {
		return nil, fmt.Errorf("could not resolve phase: %w", err)
	}
	if len(target.TaskTemplates) == 0 {
		return nil, nil
	}

	existing, err := s.repo.ListTasks(ctx, storage.TaskFilter{TicketID: ticket.ID, PhaseID: target.ID})
	if err != nil {
		return nil, fmt.Errorf("could not list phase tasks: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}

	tasks := make([]model.Task, 0, len(target.TaskTemplates))
	for _, tpl := range target.TaskTemplates {
		priority := tpl.Priority
		if priority == "" {
			priority = ticket.Priority
		}
		tasks = append(tasks, model.Task{
			TicketID:             ticket.ID,
			PhaseID:              target.ID,
			Type:                 tpl.Type,
			Description:          tpl.Description,
			Priority:             priority,
			RequiredCapabilities: tpl.RequiredCapabilities,
			MaxRetries:           s.maxRetries,
			Timeout:              s.timeout,
		})
	}

	created, err := s.EnqueueBatch(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("could not materialize phase tasks: %w", err)
	}

	s.logger.WithValues(log.Kv{"ticket": ticket.ID, "phase": target.ID}).
		Debugf("Materialized %d tasks from phase templates", len(created))
	return created, nil
}

// checkRefs rejects tasks referencing unknown tickets or phases before any
// mutation happens.
func (s *Service) checkRefs(ctx context.Context, task model.Task) error {
	if task.TicketID != "" {
		if _, err := s.repo.GetTicket(ctx, task.TicketID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("unknown ticket %s: %w", task.TicketID, model.ErrNotValid)
			}
			return fmt.Errorf("could not check ticket: %w", err)
		}
	}
	if task.PhaseID != "" {
		if _, err := s.registry.Get(task.PhaseID); err != nil {
			return fmt.Errorf("unknown phase %s: %w", task.PhaseID, model.ErrNotValid)
		}
	}
	return nil
}

// Next returns the best eligible pending task of a phase for the agent and
// atomically assigns it. Eligibility: task in the given phase, dependencies
// completed, ticket not blocked, agent capabilities a superset of the task's
// requirements. An unknown phase errors; an empty pool returns
// ErrNoEligibleTask.
func (s *Service) Next(ctx context.Context, agentID, phaseID string, capabilities []string) (*model.Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required: %w", model.ErrNotValid)
	}
	if _, err := s.registry.Get(phaseID); err != nil {
		return nil, fmt.Errorf("could not resolve phase: %w", err)
	}

	candidates, err := s.eligible(ctx, phaseID, capabilities)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleTask
	}

	ranked, err := s.rank(ctx, candidates)
	if err != nil {
		return nil, err
	}

	// Claim in rank order. A lost race on one task just moves on to the
	// next candidate.
	for _, cand := range ranked {
		claimed, err := s.repo.ClaimTask(ctx, cand.task.ID, agentID)
		if err != nil {
			if errors.Is(err, model.ErrAlreadyAssigned) || errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("could not claim task: %w", err)
		}

		now := s.now()
		claimed.StartedAt = &now
		if err := s.repo.UpdateTask(ctx, *claimed); err != nil {
			return nil, fmt.Errorf("could not record claim time: %w", err)
		}

		s.logger.WithValues(log.Kv{"task": claimed.ID, "agent": agentID, "score": cand.score}).
			Infof("Task assigned")
		s.publish(ctx, eventbus.Event{Type: "task_assigned", EntityType: "task", EntityID: claimed.ID, Payload: log.Kv{"agent": agentID}})
		return claimed, nil
	}

	return nil, ErrNoEligibleTask
}

// Complete records a successful result. Completing an already completed task
// is a no-op.
func (s *Service) Complete(ctx context.Context, taskID string, result *model.Result) error {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	if task.Status == model.TaskStatusCompleted {
		return nil
	}

	now := s.now()
	task.Status = model.TaskStatusCompleted
	task.Result = result
	task.ErrorMessage = ""
	task.CompletedAt = &now
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	s.logger.WithValues(log.Kv{"task": taskID, "ticket": task.TicketID}).Infof("Task completed")
	s.publish(ctx, eventbus.Event{Type: "task_completed", EntityType: "task", EntityID: taskID})
	return nil
}

// Fail records a failed attempt. Retryable failures re-enter the pending pool
// with an incremented retry count until the budget runs out; permanent
// failures and exhausted budgets terminate the task and leave a diagnostic
// discovery behind.
func (s *Service) Fail(ctx context.Context, taskID, errorMessage string, permanent bool) error {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s already terminal: %w", taskID, model.ErrNotValid)
	}

	task.RetryCount++
	task.ErrorMessage = errorMessage

	if !permanent && task.RetryCount <= task.MaxRetries {
		task.Status = model.TaskStatusPending
		task.AssignedAgentID = ""
		task.StartedAt = nil
		if err := s.repo.UpdateTask(ctx, *task); err != nil {
			return fmt.Errorf("could not update task: %w", err)
		}

		s.logger.WithValues(log.Kv{"task": taskID, "retry": task.RetryCount}).
			Warningf("Task failed, requeued: %s", errorMessage)
		s.publish(ctx, eventbus.Event{Type: "task_requeued", EntityType: "task", EntityID: taskID})
		return nil
	}

	now := s.now()
	task.Status = model.TaskStatusFailed
	task.CompletedAt = &now
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	if err := s.recordDiagnostic(ctx, *task); err != nil {
		s.logger.Errorf("Could not record diagnostic discovery for task %s: %s", taskID, err)
	}

	// A dead task means its ticket has no way forward: escalate by setting
	// the blocked overlay right away instead of waiting for a sweep.
	if task.TicketID != "" {
		if err := s.blockTicket(ctx, task.TicketID, fmt.Sprintf("task %s failed permanently", taskID)); err != nil {
			s.logger.Errorf("Could not block ticket %s: %s", task.TicketID, err)
		}
	}

	s.logger.WithValues(log.Kv{"task": taskID, "ticket": task.TicketID}).
		Errorf("Task failed permanently: %s", errorMessage)
	s.publish(ctx, eventbus.Event{Type: "task_failed", EntityType: "task", EntityID: taskID})
	return nil
}

func (s *Service) blockTicket(ctx context.Context, ticketID, reason string) error {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("could not get ticket: %w", err)
	}
	if ticket.Blocked || ticket.Status.Terminal() {
		return nil
	}

	now := s.now()
	ticket.Blocked = true
	ticket.BlockedReason = reason
	ticket.BlockedAt = &now
	ticket.UpdatedAt = now
	if err := s.repo.UpdateTicket(ctx, *ticket); err != nil {
		return fmt.Errorf("could not update ticket: %w", err)
	}

	s.logger.WithValues(log.Kv{"ticket": ticketID}).Warningf("Ticket blocked: %s", reason)
	s.publish(ctx, eventbus.Event{Type: "ticket_blocked", EntityType: "ticket", EntityID: ticketID})
	return nil
}

// HousekeepReport summarizes one housekeeping sweep.
type HousekeepReport struct {
	TimedOut       []string
	Starved        []string
	BlockedTickets []string
}

// Housekeep sweeps for timed out assignments, starved pending tasks and
// tickets with no way forward. Meant to run periodically.
func (s *Service) Housekeep(ctx context.Context) (*HousekeepReport, error) {
	now := s.now()
	report := &HousekeepReport{}

	live, err := s.repo.ListTasks(ctx, storage.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusAssigned, model.TaskStatusRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("could not list live tasks: %w", err)
	}

	for _, t := range live {
		if t.Timeout <= 0 || t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) <= t.Timeout {
			continue
		}
		report.TimedOut = append(report.TimedOut, t.ID)
		if err := s.Fail(ctx, t.ID, fmt.Sprintf("task timed out after %s", t.Timeout), false); err != nil {
			s.logger.Errorf("Could not fail timed out task %s: %s", t.ID, err)
		}
	}

	pending, err := s.repo.ListTasks(ctx, storage.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("could not list pending tasks: %w", err)
	}
	for _, t := range pending {
		if s.scorer.Starved(t, now) {
			report.Starved = append(report.Starved, t.ID)
			s.logger.WithValues(log.Kv{"task": t.ID}).Warningf("Task starving in pending pool")
		}
	}

	blocked, err := s.detectStuckTickets(ctx)
	if err != nil {
		return nil, err
	}
	report.BlockedTickets = blocked

	return report, nil
}

// detectStuckTickets is the safety net behind the immediate blocking in Fail:
// it blocks any ticket whose current phase carries a permanently failed task,
// catching failures written around the scheduler.
func (s *Service) detectStuckTickets(ctx context.Context) ([]string, error) {
	tickets, err := s.repo.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tickets: %w", err)
	}

	var blocked []string
	for _, ticket := range tickets {
		if ticket.Blocked || ticket.Status.Terminal() {
			continue
		}

		failed, err := s.repo.ListTasks(ctx, storage.TaskFilter{
			TicketID: ticket.ID,
			PhaseID:  ticket.PhaseID,
			Statuses: []model.TaskStatus{model.TaskStatusFailed},
		})
		if err != nil {
			return nil, fmt.Errorf("could not list ticket tasks: %w", err)
		}
		if len(failed) == 0 {
			continue
		}

		if err := s.blockTicket(ctx, ticket.ID, "phase has permanently failed tasks"); err != nil {
			return nil, err
		}
		blocked = append(blocked, ticket.ID)
	}

	return blocked, nil
}

type scoredTask struct {
	task  model.Task
	score float64
}

func (s *Service) eligible(ctx context.Context, phaseID string, capabilities []string) ([]model.Task, error) {
	pending, err := s.repo.ListTasks(ctx, storage.TaskFilter{
		PhaseID:  phaseID,
		Statuses: []model.TaskStatus{model.TaskStatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("could not list pending tasks: %w", err)
	}

	ready, err := s.graph.Ready(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("could not resolve ready tasks: %w", err)
	}

	blockedTickets, err := s.blockedTickets(ctx)
	if err != nil {
		return nil, err
	}

	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}

	var out []model.Task
	for _, t := range ready {
		if blockedTickets[t.TicketID] {
			continue
		}
		if !hasCapabilities(capSet, t.RequiredCapabilities) {
			continue
		}
		out = append(out, t)
	}

	return out, nil
}

func (s *Service) blockedTickets(ctx context.Context) (map[string]bool, error) {
	tickets, err := s.repo.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tickets: %w", err)
	}
	blocked := map[string]bool{}
	for _, t := range tickets {
		if t.Blocked {
			blocked[t.ID] = true
		}
	}
	return blocked, nil
}

// rank orders candidates by composite score, so the starvation floor and the
// deadline boost can lift a task past a fresher, higher-tier one. Ties fall
// back to priority tier, then enqueue time.
func (s *Service) rank(ctx context.Context, candidates []model.Task) ([]scoredTask, error) {
	ids := make([]string, 0, len(candidates))
	for _, t := range candidates {
		ids = append(ids, t.ID)
	}
	blockers, err := s.graph.BlockerCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("could not count blockers: %w", err)
	}

	now := s.now()
	ranked := make([]scoredTask, 0, len(candidates))
	for _, t := range candidates {
		ranked = append(ranked, scoredTask{task: t, score: s.scorer.Score(t, blockers[t.ID], now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ti, tj := ranked[i].task, ranked[j].task
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ti.Priority.Rank() != tj.Priority.Rank() {
			return ti.Priority.Rank() > tj.Priority.Rank()
		}
		return ti.CreatedAt.Before(tj.CreatedAt)
	})

	return ranked, nil
}

func (s *Service) recordDiagnostic(ctx context.Context, task model.Task) error {
	d := model.Discovery{
		ID:           ulid.Make().String(),
		SourceTaskID: task.ID,
		Kind:         model.DiscoveryDiagnostic,
		Description:  fmt.Sprintf("task exhausted retries (%d/%d): %s", task.RetryCount, task.MaxRetries, task.ErrorMessage),
		Resolution:   model.ResolutionOpen,
		CreatedAt:    s.now(),
	}
	return s.repo.CreateDiscovery(ctx, d)
}

func (s *Service) publish(ctx context.Context, ev eventbus.Event) {
	ev.At = s.now()
	s.bus.Publish(ctx, ev)
}

func hasCapabilities(capSet map[string]bool, required []string) bool {
	for _, r := range required {
		if !capSet[r] {
			return false
		}
	}
	return true
}
