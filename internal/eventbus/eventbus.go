// Package eventbus is the event-publication sink the scheduler core pushes
// state changes to. The core publishes and never depends on subscribers:
// delivery is best effort and a slow subscriber never blocks scheduling.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/log"
)

// Event is a state change notification for downstream consumers
// (dashboards, notifiers).
type Event struct {
	Type       string
	EntityType string
	EntityID   string
	Payload    map[string]any
	At         time.Time
}

// Publisher publishes events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Noop is a publisher that discards all events.
const Noop = noop(0)

type noop int

var _ Publisher = Noop

func (noop) Publish(context.Context, Event) {}

// BusConfig is the configuration for the in-process bus.
type BusConfig struct {
	// Buffer is the per-subscriber channel buffer size.
	Buffer int
	Logger log.Logger
}

func (c *BusConfig) defaults() error {
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "eventbus.Bus"})
	return nil
}

// Bus is an in-process fan-out publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	logger log.Logger
}

// NewBus creates a new in-process bus.
func NewBus(cfg BusConfig) (*Bus, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	return &Bus{
		buffer: cfg.Buffer,
		logger: cfg.Logger,
	}, nil
}

// Subscribe registers a new subscriber and returns its channel and a cancel
// function. The channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	b.subs = append(b.subs, ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}

	return ch, cancel
}

// Publish fans the event out to all subscribers. Events to saturated
// subscribers are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warningf("Dropped event %s for saturated subscriber", e.Type)
		}
	}
}
