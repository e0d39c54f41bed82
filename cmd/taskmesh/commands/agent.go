package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/model"
)

type AgentRegisterCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name         string
	capabilities []string
	capacity     int
}

// NewAgentRegisterCommand returns the agent register command.
func NewAgentRegisterCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *AgentRegisterCommand {
	c := &AgentRegisterCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("register", "Register a new agent.")
	c.Cmd.Flag("name", "Name of the agent.").Short('n').Required().StringVar(&c.name)
	c.Cmd.Flag("capability", "Capability of the agent (repeatable).").StringsVar(&c.capabilities)
	c.Cmd.Flag("capacity", "Concurrent task capacity.").Default("1").IntVar(&c.capacity)

	return c
}

func (c AgentRegisterCommand) Name() string { return c.Cmd.FullCommand() }

func (c AgentRegisterCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	agent := model.Agent{
		ID:           ulid.Make().String(),
		Name:         c.name,
		Capabilities: c.capabilities,
		Capacity:     c.capacity,
		Status:       model.AgentStatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := agent.Validate(); err != nil {
		return err
	}

	if err := svcs.Repository.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("could not register agent: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Agent registered!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:       %s\n", agent.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Name:     %s\n", agent.Name)
	fmt.Fprintf(c.rootCmd.Stdout, "  Capacity: %d\n", agent.Capacity)

	return nil
}

type AgentListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewAgentListCommand returns the agent list command.
func NewAgentListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *AgentListCommand {
	c := &AgentListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("list", "List registered agents.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c AgentListCommand) Name() string { return c.Cmd.FullCommand() }

func (c AgentListCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	agents, err := svcs.Repository.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("could not list agents: %w", err)
	}

	if c.format == "json" {
		return c.printJSON(agents)
	}
	return c.printTable(agents)
}

func (c AgentListCommand) printTable(agents []model.Agent) error {
	for _, a := range agents {
		fmt.Fprintf(c.rootCmd.Stdout, "%s  %s  capacity=%d  status=%s\n", a.ID, a.Name, a.Capacity, a.Status)
	}
	return nil
}

func (c AgentListCommand) printJSON(agents []model.Agent) error {
	type agentOutput struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities,omitempty"`
		Capacity     int      `json:"capacity"`
		Status       string   `json:"status"`
	}

	out := make([]agentOutput, len(agents))
	for i, a := range agents {
		out[i] = agentOutput{ID: a.ID, Name: a.Name, Capabilities: a.Capabilities, Capacity: a.Capacity, Status: string(a.Status)}
	}

	enc := json.NewEncoder(c.rootCmd.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
