// Package phase holds the registry of ordered workflow stage definitions.
// Definitions are immutable at runtime except via Reload.
package phase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/taskmesh/taskmesh/internal/log"
	"github.com/taskmesh/taskmesh/internal/model"
)

// RegistryConfig is the configuration for the phase registry.
type RegistryConfig struct {
	Phases []model.Phase
	Logger log.Logger
}

func (c *RegistryConfig) defaults() error {
	if len(c.Phases) == 0 {
		c.Phases = DefaultWorkflow()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "phase.Registry"})
	return nil
}

// Registry answers phase lookups for the scheduler, the ticket state machine
// and the discovery engine.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]model.Phase
	ordered []model.Phase
	logger  log.Logger
}

// NewRegistry creates a new phase registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Registry{logger: cfg.Logger}
	if err := r.Reload(cfg.Phases); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload replaces the whole phase set, validating it first. Administrative
// operation, safe to call while lookups are in flight.
func (r *Registry) Reload(phases []model.Phase) error {
	byID, ordered, err := indexPhases(phases)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = byID
	r.ordered = ordered

	r.logger.Debugf("Loaded %d phases", len(ordered))
	return nil
}

// Get returns a phase by id.
func (r *Registry) Get(id string) (*model.Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("phase %s: %w", id, model.ErrNotFound)
	}
	return &p, nil
}

// All returns all phases in sequence order.
func (r *Registry) All() []model.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Phase, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// First returns the first phase in the sequence.
func (r *Registry) First() model.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ordered[0]
}

// Next returns the phase that follows the given one in sequence order, or nil
// when the phase is terminal or last.
func (r *Registry) Next(id string) (*model.Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("phase %s: %w", id, model.ErrNotFound)
	}
	if current.Terminal {
		return nil, nil
	}

	for i, p := range r.ordered {
		if p.ID == id && i+1 < len(r.ordered) {
			next := r.ordered[i+1]
			return &next, nil
		}
	}
	return nil, nil
}

// CanTransition reports whether moving from one phase to another is allowed by
// the successor list.
func (r *Registry) CanTransition(fromID, toID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, ok := r.byID[fromID]
	if !ok {
		return false, fmt.Errorf("phase %s: %w", fromID, model.ErrNotFound)
	}
	if _, ok := r.byID[toID]; !ok {
		return false, fmt.Errorf("phase %s: %w", toID, model.ErrNotFound)
	}

	for _, succ := range from.AllowedSuccessors {
		if succ == toID {
			return true, nil
		}
	}
	return false, nil
}

func indexPhases(phases []model.Phase) (map[string]model.Phase, []model.Phase, error) {
	if len(phases) == 0 {
		return nil, nil, fmt.Errorf("at least one phase is required: %w", model.ErrNotValid)
	}

	byID := make(map[string]model.Phase, len(phases))
	for _, p := range phases {
		if err := p.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid phase %s: %w", p.ID, err)
		}
		if _, ok := byID[p.ID]; ok {
			return nil, nil, fmt.Errorf("phase %s: %w", p.ID, model.ErrAlreadyExists)
		}
		byID[p.ID] = p
	}

	// Successors must reference known phases.
	for _, p := range phases {
		for _, succ := range p.AllowedSuccessors {
			if _, ok := byID[succ]; !ok {
				return nil, nil, fmt.Errorf("phase %s successor %s: %w", p.ID, succ, model.ErrNotFound)
			}
		}
	}

	ordered := make([]model.Phase, len(phases))
	copy(ordered, phases)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	return byID, ordered, nil
}
