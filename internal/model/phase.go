package model

import (
	"fmt"
	"path"
)

// PhaseOutput describes an artifact a phase is expected to produce. Required
// outputs gate phase advancement: a completed task of the phase must report a
// matching artifact before the ticket can move on.
type PhaseOutput struct {
	Type     string
	Pattern  string
	Required bool
}

// Matches reports whether the artifact satisfies this output descriptor.
func (o PhaseOutput) Matches(a Artifact) bool {
	if a.Type != o.Type {
		return false
	}
	if o.Pattern == "" {
		return true
	}
	ok, err := path.Match(o.Pattern, a.Path)
	return err == nil && ok
}

// TaskTemplate describes a task materialized when a ticket enters a phase.
type TaskTemplate struct {
	Type                 string
	Description          string
	Priority             Priority
	RequiredCapabilities []string
}

// Phase is an ordered workflow stage definition. Immutable at runtime except
// via a registry reload.
type Phase struct {
	ID                string
	Name              string
	Description       string
	Sequence          int
	AllowedSuccessors []string
	Terminal          bool
	DoneCriteria      []string
	ExpectedOutputs   []PhaseOutput
	Instructions      string
	TaskTemplates     []TaskTemplate

	// KanbanStatus is the board column a ticket shows while in this phase.
	KanbanStatus TicketStatus
}

// Validate validates the phase definition.
func (p *Phase) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("phase id is required: %w", ErrNotValid)
	}
	if p.Name == "" {
		return fmt.Errorf("phase name is required: %w", ErrNotValid)
	}
	if p.Sequence < 0 {
		return fmt.Errorf("phase sequence must not be negative: %w", ErrNotValid)
	}
	if p.KanbanStatus == "" {
		return fmt.Errorf("phase kanban status is required: %w", ErrNotValid)
	}
	for _, out := range p.ExpectedOutputs {
		if out.Type == "" {
			return fmt.Errorf("phase output type is required: %w", ErrNotValid)
		}
		if _, err := path.Match(out.Pattern, ""); err != nil {
			return fmt.Errorf("bad phase output pattern %q: %w", out.Pattern, ErrNotValid)
		}
	}
	for _, tpl := range p.TaskTemplates {
		if tpl.Priority != "" && !tpl.Priority.Valid() {
			return fmt.Errorf("unknown template priority %q: %w", tpl.Priority, ErrNotValid)
		}
	}
	return nil
}
