package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/model"
)

type CompleteCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID  string
	summary string
}

// NewCompleteCommand returns the complete command.
func NewCompleteCommand(rootCmd *RootCommand, app *kingpin.Application) *CompleteCommand {
	c := &CompleteCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("complete", "Report a successful task result and advance its ticket if the phase is done.")
	c.Cmd.Arg("task", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("summary", "Result summary.").StringVar(&c.summary)

	return c
}

func (c CompleteCommand) Name() string { return c.Cmd.FullCommand() }

func (c CompleteCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	var result *model.Result
	if c.summary != "" {
		result = &model.Result{SchemaVersion: 1, Summary: c.summary}
	}

	if err := svcs.Scheduler.Complete(ctx, c.taskID, result); err != nil {
		return fmt.Errorf("could not complete task: %w", err)
	}

	task, err := svcs.Repository.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task %s completed\n", c.taskID)

	ticket, advanced, err := svcs.Workflow.Advance(ctx, task.TicketID, task.AssignedAgentID)
	if err != nil {
		return fmt.Errorf("could not evaluate ticket advancement: %w", err)
	}
	if advanced {
		fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s advanced to phase %s (%s)\n", ticket.ID, ticket.PhaseID, ticket.Status)
	}

	return nil
}

type FailCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID    string
	errorMsg  string
	permanent bool
}

// NewFailCommand returns the fail command.
func NewFailCommand(rootCmd *RootCommand, app *kingpin.Application) *FailCommand {
	c := &FailCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("fail", "Report a failed task attempt.")
	c.Cmd.Arg("task", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("error", "Error message.").Required().StringVar(&c.errorMsg)
	c.Cmd.Flag("permanent", "Do not retry, fail the task immediately.").BoolVar(&c.permanent)

	return c
}

func (c FailCommand) Name() string { return c.Cmd.FullCommand() }

func (c FailCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	if err := svcs.Scheduler.Fail(ctx, c.taskID, c.errorMsg, c.permanent); err != nil {
		return fmt.Errorf("could not fail task: %w", err)
	}

	task, err := svcs.Repository.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	if task.Status == model.TaskStatusPending {
		fmt.Fprintf(c.rootCmd.Stdout, "Task %s requeued (retry %d/%d)\n", c.taskID, task.RetryCount, task.MaxRetries)
	} else {
		fmt.Fprintf(c.rootCmd.Stdout, "Task %s failed permanently\n", c.taskID)
	}

	return nil
}
