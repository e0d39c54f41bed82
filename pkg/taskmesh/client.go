package taskmesh

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/authority"
	"github.com/taskmesh/taskmesh/internal/conventions"
	"github.com/taskmesh/taskmesh/internal/discovery"
	"github.com/taskmesh/taskmesh/internal/eventbus"
	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/phase"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/storage/memory"
	"github.com/taskmesh/taskmesh/internal/storage/sqlite"
	"github.com/taskmesh/taskmesh/internal/workflow"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. At minimum, an empty
// Config{} will use ~/.taskmesh/taskmesh.db for storage and the built-in
// workflow definition.
type Config struct {
	// DBPath is the SQLite database path.
	// Default: ~/.taskmesh/taskmesh.db.
	DBPath string

	// InMemory uses an in-memory repository instead of SQLite. All state is
	// lost on Close. Use this for testing and ephemeral runs.
	InMemory bool

	// WorkflowFile is a YAML workflow definition path. When empty, the
	// built-in workflow is used.
	WorkflowFile string

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.DBPath == "" && !c.InMemory {
		dataDir, err := conventions.DataDir()
		if err != nil {
			return err
		}
		c.DBPath = conventions.DBPath(dataDir)
	}

	return nil
}

// Client is the main SDK entry point for driving the scheduler core
// programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	repo      storage.Repository
	bus       *eventbus.Bus
	graph     *graph.Service
	scheduler *scheduler.Service
	discovery *discovery.Service
	authority *authority.Service
	workflow  *workflow.Service
	registry  *phase.Registry
	logger    log.Logger
	closeFn   func() error
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done to release the database
// connection. Typically used with defer:
//
//	client, err := taskmesh.New(ctx, taskmesh.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		repo    storage.Repository
		closeFn func() error
		err     error
	)
	if cfg.InMemory {
		repo, err = memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
	} else {
		sqlRepo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.DBPath,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		repo = sqlRepo
		closeFn = sqlRepo.Close
	}

	phases := phase.DefaultWorkflow()
	if cfg.WorkflowFile != "" {
		phases, err = phase.LoadFile(cfg.WorkflowFile)
		if err != nil {
			return nil, fmt.Errorf("could not load workflow file: %w", mapError(err))
		}
	}
	registry, err := phase.NewRegistry(phase.RegistryConfig{Phases: phases, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create phase registry: %w", mapError(err))
	}

	bus, err := eventbus.NewBus(eventbus.BusConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create event bus: %w", err)
	}

	graphSvc, err := graph.NewService(graph.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create graph service: %w", err)
	}

	schedulerSvc, err := scheduler.NewService(scheduler.ServiceConfig{
		Repository: repo,
		Graph:      graphSvc,
		Registry:   registry,
		EventBus:   bus,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler service: %w", err)
	}

	discoverySvc, err := discovery.NewService(discovery.ServiceConfig{
		Repository: repo,
		Registry:   registry,
		EventBus:   bus,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create discovery service: %w", err)
	}

	authoritySvc, err := authority.NewService(authority.ServiceConfig{
		Repository: repo,
		EventBus:   bus,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create authority service: %w", err)
	}

	workflowSvc, err := workflow.NewService(workflow.ServiceConfig{
		Repository: repo,
		Registry:   registry,
		Scheduler:  schedulerSvc,
		EventBus:   bus,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create workflow service: %w", err)
	}

	return &Client{
		repo:      repo,
		bus:       bus,
		graph:     graphSvc,
		scheduler: schedulerSvc,
		discovery: discoverySvc,
		authority: authoritySvc,
		workflow:  workflowSvc,
		registry:  registry,
		logger:    cfg.Logger,
		closeFn:   closeFn,
	}, nil
}

// Close releases resources held by the client, including the database
// connection. After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// Events subscribes to scheduler state changes. The returned cancel function
// unsubscribes and closes the channel. Delivery is best effort: events to a
// saturated subscriber are dropped.
func (c *Client) Events() (<-chan Event, func()) {
	ch, cancel := c.bus.Subscribe()

	out := make(chan Event, cap(ch))
	go func() {
		defer close(out)
		for e := range ch {
			// Same best-effort contract as the bus itself.
			select {
			case out <- Event{
				Type:       e.Type,
				EntityType: e.EntityType,
				EntityID:   e.EntityID,
				Payload:    e.Payload,
				At:         e.At,
			}:
			default:
			}
		}
	}()

	return out, cancel
}
