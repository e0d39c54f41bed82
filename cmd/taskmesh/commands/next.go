package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/scheduler"
)

type NextCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	agentID      string
	phaseID      string
	capabilities []string
	format       string
}

// NewNextCommand returns the next command.
func NewNextCommand(rootCmd *RootCommand, app *kingpin.Application) *NextCommand {
	c := &NextCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("next", "Claim the best eligible task for an agent.")
	c.Cmd.Flag("agent", "Agent ID claiming the task.").Required().StringVar(&c.agentID)
	c.Cmd.Flag("phase", "Phase the agent is working.").Required().StringVar(&c.phaseID)
	c.Cmd.Flag("capability", "Capability of the agent (repeatable). Defaults to the registered agent's capabilities.").StringsVar(&c.capabilities)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c NextCommand) Name() string { return c.Cmd.FullCommand() }

func (c NextCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	capabilities := c.capabilities
	if len(capabilities) == 0 {
		agent, err := svcs.Repository.GetAgent(ctx, c.agentID)
		if err == nil {
			capabilities = agent.Capabilities
		} else if !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("could not get agent: %w", err)
		}
	}

	task, err := svcs.Scheduler.Next(ctx, c.agentID, c.phaseID, capabilities)
	if err != nil {
		if errors.Is(err, scheduler.ErrNoEligibleTask) {
			return c.rootCmd.printerFor(c.format).PrintMessage("No eligible task.")
		}
		return fmt.Errorf("could not claim task: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintTask(*task)
}
