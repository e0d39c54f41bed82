package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/discovery"
	"github.com/taskmesh/taskmesh/internal/model"
)

var discoveryKinds = func() []string {
	kinds := model.DiscoveryKinds()
	ss := make([]string, 0, len(kinds))
	for _, k := range kinds {
		ss = append(ss, string(k))
	}
	return ss
}()

type DiscoveryRecordCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID      string
	kind        string
	description string
	boost       bool
}

// NewDiscoveryRecordCommand returns the discovery record command.
func NewDiscoveryRecordCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *DiscoveryRecordCommand {
	c := &DiscoveryRecordCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("record", "Record a discovery found while executing a task.")
	c.Cmd.Flag("task", "Source task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("kind", "Kind of discovery.").Required().EnumVar(&c.kind, discoveryKinds...)
	c.Cmd.Flag("description", "What was found.").Required().StringVar(&c.description)
	c.Cmd.Flag("boost", "Mark the finding as needing a priority boost on follow-up work.").BoolVar(&c.boost)

	return c
}

func (c DiscoveryRecordCommand) Name() string { return c.Cmd.FullCommand() }

func (c DiscoveryRecordCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	d, err := svcs.Discovery.Record(ctx, c.taskID, model.DiscoveryKind(c.kind), c.description, c.boost)
	if err != nil {
		return fmt.Errorf("could not record discovery: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Discovery recorded: %s\n", d.ID)
	return nil
}

type DiscoveryBranchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID       string
	kind         string
	description  string
	taskType     string
	phaseID      string
	capabilities []string
	boost        bool
}

// NewDiscoveryBranchCommand returns the discovery branch command.
func NewDiscoveryBranchCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *DiscoveryBranchCommand {
	c := &DiscoveryBranchCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("branch", "Record a discovery and spawn a follow-up task from it.")
	c.Cmd.Flag("task", "Source task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("kind", "Kind of discovery.").Required().EnumVar(&c.kind, discoveryKinds...)
	c.Cmd.Flag("description", "What was found.").Required().StringVar(&c.description)
	c.Cmd.Flag("type", "Type of the spawned task.").StringVar(&c.taskType)
	c.Cmd.Flag("phase", "Phase of the spawned task (defaults to the source task's phase).").StringVar(&c.phaseID)
	c.Cmd.Flag("capability", "Capability needed by the spawned task (repeatable).").StringsVar(&c.capabilities)
	c.Cmd.Flag("boost", "Run the spawned task one priority tier above the source.").BoolVar(&c.boost)

	return c
}

func (c DiscoveryBranchCommand) Name() string { return c.Cmd.FullCommand() }

func (c DiscoveryBranchCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	d, branch, err := svcs.Discovery.RecordAndBranch(ctx, c.taskID, model.DiscoveryKind(c.kind), c.description, discovery.BranchSpec{
		TaskType:      c.taskType,
		PhaseID:       c.phaseID,
		Capabilities:  c.capabilities,
		PriorityBoost: c.boost,
	})
	if err != nil {
		return fmt.Errorf("could not branch discovery: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Discovery recorded: %s\n", d.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "Spawned task:       %s (priority %s)\n", branch.ID, branch.Priority)
	return nil
}

type DiscoveryResolveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	discoveryID string
	invalid     bool
}

// NewDiscoveryResolveCommand returns the discovery resolve command.
func NewDiscoveryResolveCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *DiscoveryResolveCommand {
	c := &DiscoveryResolveCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("resolve", "Close a discovery.")
	c.Cmd.Arg("discovery", "Discovery ID.").Required().StringVar(&c.discoveryID)
	c.Cmd.Flag("invalid", "Close as a false positive instead of resolved.").BoolVar(&c.invalid)

	return c
}

func (c DiscoveryResolveCommand) Name() string { return c.Cmd.FullCommand() }

func (c DiscoveryResolveCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	if c.invalid {
		if err := svcs.Discovery.Invalidate(ctx, c.discoveryID); err != nil {
			return fmt.Errorf("could not invalidate discovery: %w", err)
		}
		fmt.Fprintf(c.rootCmd.Stdout, "Discovery %s marked invalid\n", c.discoveryID)
		return nil
	}

	if err := svcs.Discovery.Resolve(ctx, c.discoveryID); err != nil {
		return fmt.Errorf("could not resolve discovery: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stdout, "Discovery %s resolved\n", c.discoveryID)
	return nil
}

type DiscoveryListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewDiscoveryListCommand returns the discovery list command.
func NewDiscoveryListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *DiscoveryListCommand {
	c := &DiscoveryListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("list", "List discoveries.")
	c.Cmd.Flag("task", "Filter by source task.").StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c DiscoveryListCommand) Name() string { return c.Cmd.FullCommand() }

func (c DiscoveryListCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	discoveries, err := svcs.Discovery.List(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not list discoveries: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintDiscoveryList(discoveries)
}
