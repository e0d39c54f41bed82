package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/taskmesh/taskmesh/internal/authority"
	"github.com/taskmesh/taskmesh/internal/conventions"
	"github.com/taskmesh/taskmesh/internal/discovery"
	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/printer"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage/sqlite"
	"github.com/taskmesh/taskmesh/internal/workflow"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug        bool
	NoLog        bool
	NoColor      bool
	LoggerType   string
	DBPath       string
	WorkflowFile string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDBPath := conventions.DBPath(filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir))
	app.Flag("db-path", "Path to the SQLite database file.").Envar("TASKMESH_DB_PATH").Default(defaultDBPath).StringVar(&c.DBPath)
	app.Flag("workflow-file", "Path to a YAML workflow definition (defaults to the built-in workflow).").Envar("TASKMESH_WORKFLOW_FILE").StringVar(&c.WorkflowFile)

	return c
}

// printerFor returns the printer for the selected output format.
func (c *RootCommand) printerFor(format string) printer.Printer {
	if format == "json" {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout)
}

// services is the shared service wiring every command builds on top of the
// SQLite repository.
type services struct {
	Repository *sqlite.Repository
	Registry   *phase.Registry
	Bus        *eventbus.Bus
	Graph      *graph.Service
	Scheduler  *scheduler.Service
	Discovery  *discovery.Service
	Authority  *authority.Service
	Workflow   *workflow.Service
}

// newServices wires the whole scheduler core on top of the configured
// database and workflow file.
func (c *RootCommand) newServices(ctx context.Context) (*services, error) {
	logger := c.Logger

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.DBPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	phases := phase.DefaultWorkflow()
	if c.WorkflowFile != "" {
		phases, err = phase.LoadFile(c.WorkflowFile)
		if err != nil {
			return nil, fmt.Errorf("could not load workflow file: %w", err)
		}
	}
	registry, err := phase.NewRegistry(phase.RegistryConfig{Phases: phases, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create phase registry: %w", err)
	}

	bus, err := eventbus.NewBus(eventbus.BusConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create event bus: %w", err)
	}

	graphSvc, err := graph.NewService(graph.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create graph service: %w", err)
	}

	schedulerSvc, err := scheduler.NewService(scheduler.ServiceConfig{
		Repository: repo,
		Graph:      graphSvc,
		Registry:   registry,
		EventBus:   bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler service: %w", err)
	}

	discoverySvc, err := discovery.NewService(discovery.ServiceConfig{
		Repository: repo,
		Registry:   registry,
		EventBus:   bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create discovery service: %w", err)
	}

	authoritySvc, err := authority.NewService(authority.ServiceConfig{
		Repository: repo,
		EventBus:   bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create authority service: %w", err)
	}

	workflowSvc, err := workflow.NewService(workflow.ServiceConfig{
		Repository: repo,
		Registry:   registry,
		Scheduler:  schedulerSvc,
		EventBus:   bus,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create workflow service: %w", err)
	}

	return &services{
		Repository: repo,
		Registry:   registry,
		Bus:        bus,
		Graph:      graphSvc,
		Scheduler:  schedulerSvc,
		Discovery:  discoverySvc,
		Authority:  authoritySvc,
		Workflow:   workflowSvc,
	}, nil
}
