package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/printer"
)

type BoardCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewBoardCommand returns the board command.
func NewBoardCommand(rootCmd *RootCommand, app *kingpin.Application) *BoardCommand {
	c := &BoardCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("board", "Show the Kanban board.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c BoardCommand) Name() string { return c.Cmd.FullCommand() }

func (c BoardCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	tickets, err := svcs.Repository.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("could not list tickets: %w", err)
	}

	order := []model.TicketStatus{
		model.TicketStatusBacklog,
		model.TicketStatusAnalyzing,
		model.TicketStatusBuilding,
		model.TicketStatusBuildingDone,
		model.TicketStatusTesting,
		model.TicketStatusDone,
	}

	byStatus := map[model.TicketStatus][]model.Ticket{}
	for _, t := range tickets {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	columns := make([]printer.BoardColumn, 0, len(order))
	for _, status := range order {
		columns = append(columns, printer.BoardColumn{Status: status, Tickets: byStatus[status]})
	}

	return c.rootCmd.printerFor(c.format).PrintBoard(columns)
}
