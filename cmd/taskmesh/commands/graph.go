package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type GraphCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
}

// NewGraphCommand returns the graph command.
func NewGraphCommand(rootCmd *RootCommand, app *kingpin.Application) *GraphCommand {
	c := &GraphCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("graph", "Export the dependency graph of a ticket in DOT format.")
	c.Cmd.Arg("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)

	return c
}

func (c GraphCommand) Name() string { return c.Cmd.FullCommand() }

func (c GraphCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	nodes, edges, err := svcs.Graph.Export(ctx, c.ticketID)
	if err != nil {
		return fmt.Errorf("could not export graph: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "digraph %q {\n", c.ticketID)
	for _, n := range nodes {
		fmt.Fprintf(c.rootCmd.Stdout, "  %q;\n", n)
	}
	for _, e := range edges {
		fmt.Fprintf(c.rootCmd.Stdout, "  %q -> %q;\n", e.From, e.To)
	}
	fmt.Fprintln(c.rootCmd.Stdout, "}")

	return nil
}
