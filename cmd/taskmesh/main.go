package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/taskmesh/taskmesh/cmd/taskmesh/commands"
	"github.com/taskmesh/taskmesh/internal/log"
	loglogrus "github.com/taskmesh/taskmesh/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("taskmesh", "Multi-agent task scheduling core.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	boardCmd := commands.NewBoardCommand(rootCmd, app)
	enqueueCmd := commands.NewEnqueueCommand(rootCmd, app)
	nextCmd := commands.NewNextCommand(rootCmd, app)
	completeCmd := commands.NewCompleteCommand(rootCmd, app)
	failCmd := commands.NewFailCommand(rootCmd, app)
	watchCmd := commands.NewWatchCommand(rootCmd, app)
	graphCmd := commands.NewGraphCommand(rootCmd, app)

	// Ticket subcommands share a parent command.
	ticketCmd := app.Command("ticket", "Manage tickets.")
	ticketCreateCmd := commands.NewTicketCreateCommand(rootCmd, ticketCmd)
	ticketListCmd := commands.NewTicketListCommand(rootCmd, ticketCmd)
	ticketAdvanceCmd := commands.NewTicketAdvanceCommand(rootCmd, ticketCmd)
	ticketBlockCmd := commands.NewTicketBlockCommand(rootCmd, ticketCmd)
	ticketUnblockCmd := commands.NewTicketUnblockCommand(rootCmd, ticketCmd)
	ticketHistoryCmd := commands.NewTicketHistoryCommand(rootCmd, ticketCmd)

	// Task subcommands.
	taskCmd := app.Command("task", "Inspect tasks.")
	taskListCmd := commands.NewTaskListCommand(rootCmd, taskCmd)
	taskGetCmd := commands.NewTaskGetCommand(rootCmd, taskCmd)
	taskMaterializeCmd := commands.NewTaskMaterializeCommand(rootCmd, taskCmd)

	// Discovery subcommands.
	discCmd := app.Command("discovery", "Record and manage discoveries.")
	discRecordCmd := commands.NewDiscoveryRecordCommand(rootCmd, discCmd)
	discBranchCmd := commands.NewDiscoveryBranchCommand(rootCmd, discCmd)
	discResolveCmd := commands.NewDiscoveryResolveCommand(rootCmd, discCmd)
	discListCmd := commands.NewDiscoveryListCommand(rootCmd, discCmd)

	// Override subcommands.
	overrideCmd := app.Command("override", "Authority overrides.")
	overrideCancelCmd := commands.NewOverrideCancelCommand(rootCmd, overrideCmd)
	overridePriorityCmd := commands.NewOverridePriorityCommand(rootCmd, overrideCmd)
	overrideCapacityCmd := commands.NewOverrideCapacityCommand(rootCmd, overrideCmd)
	overrideRevertCmd := commands.NewOverrideRevertCommand(rootCmd, overrideCmd)
	overrideActionsCmd := commands.NewOverrideActionsCommand(rootCmd, overrideCmd)

	// Agent subcommands.
	agentCmd := app.Command("agent", "Manage agents.")
	agentRegisterCmd := commands.NewAgentRegisterCommand(rootCmd, agentCmd)
	agentListCmd := commands.NewAgentListCommand(rootCmd, agentCmd)

	cmds := map[string]commands.Command{
		boardCmd.Name():            boardCmd,
		enqueueCmd.Name():          enqueueCmd,
		nextCmd.Name():             nextCmd,
		completeCmd.Name():         completeCmd,
		failCmd.Name():             failCmd,
		watchCmd.Name():            watchCmd,
		graphCmd.Name():            graphCmd,
		ticketCreateCmd.Name():     ticketCreateCmd,
		ticketListCmd.Name():       ticketListCmd,
		ticketAdvanceCmd.Name():    ticketAdvanceCmd,
		ticketBlockCmd.Name():      ticketBlockCmd,
		ticketUnblockCmd.Name():    ticketUnblockCmd,
		ticketHistoryCmd.Name():    ticketHistoryCmd,
		taskListCmd.Name():         taskListCmd,
		taskGetCmd.Name():          taskGetCmd,
		taskMaterializeCmd.Name():  taskMaterializeCmd,
		discRecordCmd.Name():       discRecordCmd,
		discBranchCmd.Name():       discBranchCmd,
		discResolveCmd.Name():      discResolveCmd,
		discListCmd.Name():         discListCmd,
		overrideCancelCmd.Name():   overrideCancelCmd,
		overridePriorityCmd.Name(): overridePriorityCmd,
		overrideCapacityCmd.Name(): overrideCapacityCmd,
		overrideRevertCmd.Name():   overrideRevertCmd,
		overrideActionsCmd.Name():  overrideActionsCmd,
		agentRegisterCmd.Name():    agentRegisterCmd,
		agentListCmd.Name():        agentListCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Auto-suppress logging for commands that produce structured output
	// (table/JSON) so log noise does not mix with printer output. Users can
	// still enable logging with --debug.
	printerCommands := map[string]bool{
		"board":          true,
		"graph":          true,
		"ticket list":    true,
		"ticket history": true,
		"task list":      true,
		"task get":       true,
		"discovery list": true,
		"override actions": true,
		"agent list":     true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(ctx context.Context, config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	// If logger not disabled use logrus logger.
	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	// Log format.
	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled") // Will log only when debug enabled.

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
