package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmesh/taskmesh/internal/model"
)

type TicketCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	title       string
	description string
	priority    string
}

// NewTicketCreateCommand returns the ticket create command.
func NewTicketCreateCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketCreateCommand {
	c := &TicketCreateCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("create", "Create a new ticket in the first workflow phase.")
	c.Cmd.Flag("title", "Title of the ticket.").Short('t').Required().StringVar(&c.title)
	c.Cmd.Flag("description", "Longer description.").StringVar(&c.description)
	c.Cmd.Flag("priority", "Priority tier.").Default(string(model.PriorityMedium)).EnumVar(&c.priority,
		string(model.PriorityCritical), string(model.PriorityHigh), string(model.PriorityMedium), string(model.PriorityLow))

	return c
}

func (c TicketCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketCreateCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	ticket, err := svcs.Workflow.CreateTicket(ctx, c.title, c.description, model.Priority(c.priority))
	if err != nil {
		return fmt.Errorf("could not create ticket: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Ticket created!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:       %s\n", ticket.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Phase:    %s\n", ticket.PhaseID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Status:   %s\n", ticket.Status)
	fmt.Fprintf(c.rootCmd.Stdout, "  Priority: %s\n", ticket.Priority)

	return nil
}

type TicketListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewTicketListCommand returns the ticket list command.
func NewTicketListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketListCommand {
	c := &TicketListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("list", "List all tickets.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TicketListCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketListCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	tickets, err := svcs.Repository.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("could not list tickets: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintTicketList(tickets)
}

type TicketAdvanceCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
	toPhase  string
	by       string
	reason   string
}

// NewTicketAdvanceCommand returns the ticket advance command.
func NewTicketAdvanceCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketAdvanceCommand {
	c := &TicketAdvanceCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("advance", "Advance a ticket: auto when its phase is complete, or to an explicit phase.")
	c.Cmd.Arg("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)
	c.Cmd.Flag("to", "Explicit target phase (defaults to automatic advancement).").StringVar(&c.toPhase)
	c.Cmd.Flag("by", "Who initiates the transition.").StringVar(&c.by)
	c.Cmd.Flag("reason", "Reason for an explicit transition.").StringVar(&c.reason)

	return c
}

func (c TicketAdvanceCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketAdvanceCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	if c.toPhase != "" {
		reason := c.reason
		if reason == "" {
			reason = "explicit transition"
		}
		ticket, err := svcs.Workflow.Transition(ctx, c.ticketID, c.toPhase, c.by, reason)
		if err != nil {
			return fmt.Errorf("could not transition ticket: %w", err)
		}
		fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s moved to phase %s (%s)\n", ticket.ID, ticket.PhaseID, ticket.Status)
		return nil
	}

	ticket, advanced, err := svcs.Workflow.Advance(ctx, c.ticketID, c.by)
	if err != nil {
		return fmt.Errorf("could not advance ticket: %w", err)
	}
	if !advanced {
		fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s not ready to advance (phase %s)\n", ticket.ID, ticket.PhaseID)
		return nil
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s advanced to phase %s (%s)\n", ticket.ID, ticket.PhaseID, ticket.Status)
	return nil
}

type TicketBlockCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
	reason   string
}

// NewTicketBlockCommand returns the ticket block command.
func NewTicketBlockCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketBlockCommand {
	c := &TicketBlockCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("block", "Set the blocked overlay on a ticket.")
	c.Cmd.Arg("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)
	c.Cmd.Flag("reason", "Why the ticket is blocked.").Required().StringVar(&c.reason)

	return c
}

func (c TicketBlockCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketBlockCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	ticket, err := svcs.Workflow.Block(ctx, c.ticketID, c.reason)
	if err != nil {
		return fmt.Errorf("could not block ticket: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s blocked: %s\n", ticket.ID, ticket.BlockedReason)
	return nil
}

type TicketUnblockCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
}

// NewTicketUnblockCommand returns the ticket unblock command.
func NewTicketUnblockCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketUnblockCommand {
	c := &TicketUnblockCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("unblock", "Clear the blocked overlay on a ticket.")
	c.Cmd.Arg("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)

	return c
}

func (c TicketUnblockCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketUnblockCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	ticket, err := svcs.Workflow.Unblock(ctx, c.ticketID)
	if err != nil {
		return fmt.Errorf("could not unblock ticket: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Ticket %s unblocked (phase %s, status %s)\n", ticket.ID, ticket.PhaseID, ticket.Status)
	return nil
}

type TicketHistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ticketID string
	format   string
}

// NewTicketHistoryCommand returns the ticket history command.
func NewTicketHistoryCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TicketHistoryCommand {
	c := &TicketHistoryCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("history", "Show the phase transitions of a ticket.")
	c.Cmd.Arg("ticket", "Ticket ID.").Required().StringVar(&c.ticketID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TicketHistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c TicketHistoryCommand) Run(ctx context.Context) error {
	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}

	entries, err := svcs.Workflow.History(ctx, c.ticketID)
	if err != nil {
		return fmt.Errorf("could not get ticket history: %w", err)
	}

	return c.rootCmd.printerFor(c.format).PrintHistory(entries)
}
