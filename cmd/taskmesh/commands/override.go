package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/authority"
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

var authorityLevels = []string{"WORKER", "WATCHDOG", "MONITOR", "GUARDIAN", "SYSTEM"}

// overrideRequest holds the flags every override subcommand shares.
type overrideRequest struct {
	level  string
	by     string
	reason string
}

func (o *overrideRequest) register(cmd *kingpin.CmdClause) {
	cmd.Flag("level", "Authority level of the caller.").Required().EnumVar(&o.level, authorityLevels...)
	cmd.Flag("by", "Who initiates the override.").StringVar(&o.by)
	cmd.Flag("reason", "Why this override is needed.").Required().StringVar(&o.reason)
}

func (o *overrideRequest) request() (authority.Request, error) {
	level, err := model.ParseAuthorityLevel(o.level)
	if err != nil {
		return authority.Request{}, err
	}
	return authority.Request{Level: level, InitiatedBy: o.by, Reason: o.reason}, nil
}

type OverrideCancelCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	req    overrideRequest
	taskID string
}

// NewOverrideCancelCommand returns the override cancel command.
func NewOverrideCancelCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *OverrideCancelCommand {
	c := &OverrideCancelCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("cancel", "Emergency-cancel a task.")
	c.Cmd.Arg("task", "Task ID.").Required().StringVar(&c.taskID)
	c.req.register(c.Cmd)

	return c
}

func (c OverrideCancelCommand) Name() string { return c.Cmd.FullCommand() }

func (c OverrideCancelCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	req, err := c.req.request()
	if err != nil {
		return err
	}

	action, err := svcs.Authority.EmergencyCancel(ctx, req, c.taskID)
	if err != nil {
		return fmt.Errorf("could not cancel task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task %s cancelled (action %s)\n", c.taskID, action.ID)
	return nil
}

type OverridePriorityCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	req      overrideRequest
	taskID   string
	priority string
}

// NewOverridePriorityCommand returns the override priority command.
func NewOverridePriorityCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *OverridePriorityCommand {
	c := &OverridePriorityCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("priority", "Override the priority of a task.")
	c.Cmd.Arg("task", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("priority", "New priority tier.").Required().EnumVar(&c.priority,
		string(model.PriorityCritical), string(model.PriorityHigh), string(model.PriorityMedium), string(model.PriorityLow))
	c.req.register(c.Cmd)

	return c
}

func (c OverridePriorityCommand) Name() string { return c.Cmd.FullCommand() }

func (c OverridePriorityCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	req, err := c.req.request()
	if err != nil {
		return err
	}

	action, err := svcs.Authority.Reprioritize(ctx, req, c.taskID, model.Priority(c.priority))
	if err != nil {
		return fmt.Errorf("could not reprioritize task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task %s set to %s (action %s)\n", c.taskID, c.priority, action.ID)
	return nil
}

type OverrideCapacityCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	req      overrideRequest
	agentID  string
	capacity int
}

// NewOverrideCapacityCommand returns the override capacity command.
func NewOverrideCapacityCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *OverrideCapacityCommand {
	c := &OverrideCapacityCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("capacity", "Reassign an agent's task capacity.")
	c.Cmd.Arg("agent", "Agent ID.").Required().StringVar(&c.agentID)
	c.Cmd.Flag("capacity", "New concurrent task capacity.").Required().IntVar(&c.capacity)
	c.req.register(c.Cmd)

	return c
}

func (c OverrideCapacityCommand) Name() string { return c.Cmd.FullCommand() }

func (c OverrideCapacityCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	req, err := c.req.request()
	if err != nil {
		return err
	}

	action, err := svcs.Authority.ReassignCapacity(ctx, req, c.agentID, c.capacity)
	if err != nil {
		return fmt.Errorf("could not reassign capacity: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Agent %s capacity set to %d (action %s)\n", c.agentID, c.capacity, action.ID)
	return nil
}

type OverrideRevertCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	req      overrideRequest
	actionID string
}

// NewOverrideRevertCommand returns the override revert command.
func NewOverrideRevertCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *OverrideRevertCommand {
	c := &OverrideRevertCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("revert", "Revert a prior authority action.")
	c.Cmd.Arg("action", "Action ID to revert.").Required().StringVar(&c.actionID)
	c.req.register(c.Cmd)

	return c
}

func (c OverrideRevertCommand) Name() string { return c.Cmd.FullCommand() }

func (c OverrideRevertCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	req, err := c.req.request()
	if err != nil {
		return err
	}

	action, err := svcs.Authority.Revert(ctx, req, c.actionID)
	if err != nil {
		return fmt.Errorf("could not revert action: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Action %s reverted (action %s)\n", c.actionID, action.ID)
	return nil
}

type OverrideActionsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	target string
	limit  int
	format string
}

// NewOverrideActionsCommand returns the override actions command.
func NewOverrideActionsCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *OverrideActionsCommand {
	c := &OverrideActionsCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("actions", "List the authority audit trail.")
	c.Cmd.Flag("target", "Filter by target task/agent/ticket.").StringVar(&c.target)
	c.Cmd.Flag("limit", "Maximum number of actions.").Default("50").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c OverrideActionsCommand) Name() string { return c.Cmd.FullCommand() }

func (c OverrideActionsCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	actions, err := svcs.Authority.Actions(ctx, storage.ActionFilter{TargetID: c.target, Limit: c.limit})
	if err != nil {
		return fmt.Errorf("could not list actions: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintActionList(actions)
}
