package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/taskmesh/taskmesh/internal/log"
)

type WatchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	interval time.Duration
	events   bool
}

// NewWatchCommand returns the watch command.
func NewWatchCommand(rootCmd *RootCommand, app *kingpin.Application) *WatchCommand {
	c := &WatchCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("watch", "Run the housekeeping loop: timeout sweeps, starvation checks, stuck ticket detection.")
	c.Cmd.Flag("interval", "Housekeeping interval.").Default("30s").DurationVar(&c.interval)
	c.Cmd.Flag("events", "Print scheduler events to stdout.").BoolVar(&c.events)

	return c
}

func (c WatchCommand) Name() string { return c.Cmd.FullCommand() }

func (c WatchCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	svcs, err := c.rootCmd.newServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Repository.Close()

	var g run.Group

	// Housekeeping ticker.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				ticker := time.NewTicker(c.interval)
				defer ticker.Stop()

				logger.Infof("Housekeeping loop started (interval %s)", c.interval)
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}

					report, err := svcs.Scheduler.Housekeep(ctx)
					if err != nil {
						logger.Errorf("Housekeeping sweep failed: %s", err)
						continue
					}
					if len(report.TimedOut)+len(report.Starved)+len(report.BlockedTickets) > 0 {
						logger.WithValues(log.Kv{
							"timed_out":       len(report.TimedOut),
							"starved":         len(report.Starved),
							"blocked_tickets": len(report.BlockedTickets),
						}).Infof("Housekeeping sweep finished")
					}
				}
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Event stream.
	if c.events {
		events, unsubscribe := svcs.Bus.Subscribe()
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case ev, ok := <-events:
						if !ok {
							return nil
						}
						fmt.Fprintf(c.rootCmd.Stdout, "%s  %s  %s/%s\n", ev.At.Format(time.RFC3339), ev.Type, ev.EntityType, ev.EntityID)
					}
				}
			},
			func(_ error) {
				unsubscribe()
				cancel()
			},
		)
	}

	return g.Run()
}
