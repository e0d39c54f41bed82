package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

type EnqueueCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID     string
	phaseID      string
	taskType     string
	description  string
	priority     string
	dependsOn    []string
	capabilities []string
	deadline     string
	maxRetries   int
	timeout      time.Duration
}

// NewEnqueueCommand returns the enqueue command.
func NewEnqueueCommand(rootCmd *RootCommand, app *kingpin.Application) *EnqueueCommand {
	c := &EnqueueCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("enqueue", "Enqueue a new task.")
	c.Cmd.Flag("ticket", "Owning ticket ID.").Required().StringVar(&c.ticketID)
	c.Cmd.Flag("phase", "Phase the task belongs to.").Required().StringVar(&c.phaseID)
	c.Cmd.Flag("type", "Task type.").StringVar(&c.taskType)
	c.Cmd.Flag("description", "What the task does.").StringVar(&c.description)
	c.Cmd.Flag("priority", "Priority tier.").Default(string(model.PriorityMedium)).EnumVar(&c.priority,
		string(model.PriorityCritical), string(model.PriorityHigh), string(model.PriorityMedium), string(model.PriorityLow))
	c.Cmd.Flag("depends-on", "Task IDs that must complete first (repeatable).").StringsVar(&c.dependsOn)
	c.Cmd.Flag("capability", "Capability an agent needs to run this task (repeatable).").StringsVar(&c.capabilities)
	c.Cmd.Flag("deadline", "Deadline in RFC3339 format.").StringVar(&c.deadline)
	c.Cmd.Flag("max-retries", "Retry budget.").Default("3").IntVar(&c.maxRetries)
	c.Cmd.Flag("timeout", "Execution timeout.").Default("30m").DurationVar(&c.timeout)

	return c
}

func (c EnqueueCommand) Name() string { return c.Cmd.FullCommand() }

func (c EnqueueCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	task := model.Task{
		TicketID:             c.ticketID,
		PhaseID:              c.phaseID,
		Type:                 c.taskType,
		Description:          c.description,
		Priority:             model.Priority(c.priority),
		DependsOn:            c.dependsOn,
		RequiredCapabilities: c.capabilities,
		MaxRetries:           c.maxRetries,
		Timeout:              c.timeout,
	}

	if c.deadline != "" {
		deadline, err := time.Parse(time.RFC3339, c.deadline)
		if err != nil {
			return fmt.Errorf("invalid deadline: %w", err)
		}
		task.Deadline = &deadline
	}

	created, err := svcs.Scheduler.Enqueue(ctx, task)
	if err != nil {
		return fmt.Errorf("could not enqueue task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task enqueued!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:       %s\n", created.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Ticket:   %s\n", created.TicketID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Priority: %s\n", created.Priority)

	return nil
}

type TaskMaterializeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
	phaseID  string
}

// NewTaskMaterializeCommand returns the task materialize command.
func NewTaskMaterializeCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskMaterializeCommand {
	c := &TaskMaterializeCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("materialize", "Create a phase's template tasks for a ticket.")
	c.Cmd.Flag("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)
	c.Cmd.Flag("phase", "Phase whose templates to materialize.").Required().StringVar(&c.phaseID)

	return c
}

func (c TaskMaterializeCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskMaterializeCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	created, err := svcs.Scheduler.EnqueuePhaseTasks(ctx, c.ticketID, c.phaseID)
	if err != nil {
		return fmt.Errorf("could not materialize phase tasks: %w", err)
	}

	if len(created) == 0 {
		fmt.Fprintf(c.rootCmd.Stdout, "No tasks created (phase has no templates or was already materialized)\n")
		return nil
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Created %d tasks:\n", len(created))
	for _, t := range created {
		fmt.Fprintf(c.rootCmd.Stdout, "  %s  %s (%s)\n", t.ID, t.Type, t.Priority)
	}
	return nil
}

type TaskListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
	status   string
	format   string
}

// NewTaskListCommand returns the task list command.
func NewTaskListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskListCommand {
	c := &TaskListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("list", "List tasks.")
	c.Cmd.Flag("ticket", "Filter by ticket.").StringVar(&c.ticketID)
	c.Cmd.Flag("status", "Filter by status (pending, assigned, running, completed, failed).").StringVar(&c.status)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskListCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskListCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	filter := storage.TaskFilter{TicketID: c.ticketID}
	if c.status != "" {
		status := model.TaskStatus(c.status)
		switch status {
		case model.TaskStatusPending, model.TaskStatusAssigned, model.TaskStatusRunning, model.TaskStatusCompleted, model.TaskStatusFailed:
			filter.Statuses = []model.TaskStatus{status}
		default:
			return fmt.Errorf("invalid status filter: %s", c.status)
		}
	}

	tasks, err := svcs.Repository.ListTasks(ctx, filter)
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintTaskList(tasks)
}

type TaskGetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewTaskGetCommand returns the task get command.
func NewTaskGetCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskGetCommand {
	c := &TaskGetCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("get", "Show a single task.")
	c.Cmd.Arg("task", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskGetCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskGetCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	task, err := svcs.Repository.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintTask(*task)
}
