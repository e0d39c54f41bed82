package model

import (
	"fmt"
	"time"
)

// TicketStatus represents the Kanban status of a ticket.
type TicketStatus string

const (
	TicketStatusBacklog      TicketStatus = "backlog"
	TicketStatusAnalyzing    TicketStatus = "analyzing"
	TicketStatusBuilding     TicketStatus = "building"
	TicketStatusBuildingDone TicketStatus = "building_done"
	TicketStatusTesting      TicketStatus = "testing"
	TicketStatusDone         TicketStatus = "done"
)

// Terminal reports whether the status is a final one.
func (s TicketStatus) Terminal() bool { return s == TicketStatusDone }

// ticketTransitions is the Kanban state machine. Regression from testing back
// to building is allowed so failed validation can return work to the builders.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusBacklog:      {TicketStatusAnalyzing},
	TicketStatusAnalyzing:    {TicketStatusBuilding},
	TicketStatusBuilding:     {TicketStatusBuildingDone},
	TicketStatusBuildingDone: {TicketStatusTesting},
	TicketStatusTesting:      {TicketStatusDone, TicketStatusBuilding},
	TicketStatusDone:         {},
}

// blockedTransitions are the statuses a blocked ticket may move to. Moving to
// one of them clears the blocked overlay.
var blockedTransitions = map[TicketStatus]bool{
	TicketStatusAnalyzing:    true,
	TicketStatusBuilding:     true,
	TicketStatusBuildingDone: true,
	TicketStatusTesting:      true,
}

// ValidTicketTransition reports whether moving from one status to another is
// legal. Blocked tickets are restricted to the unblock statuses regardless of
// the normal table.
func ValidTicketTransition(from, to TicketStatus, blocked bool) bool {
	if blocked {
		return blockedTransitions[to]
	}
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UnblockTransition reports whether the target status clears the blocked overlay.
func UnblockTransition(to TicketStatus) bool { return blockedTransitions[to] }

// NextTicketStatus returns the next status in the normal progression chain,
// or empty when there is none.
func NextTicketStatus(current TicketStatus) TicketStatus {
	switch current {
	case TicketStatusBacklog:
		return TicketStatusAnalyzing
	case TicketStatusAnalyzing:
		return TicketStatusBuilding
	case TicketStatusBuilding:
		return TicketStatusBuildingDone
	case TicketStatusBuildingDone:
		return TicketStatusTesting
	case TicketStatusTesting:
		return TicketStatusDone
	}
	return ""
}

// Ticket is a coarse-grained unit of work moving through Kanban-style states.
// Blocked is an overlay flag orthogonal to Status: a ticket can be building
// and blocked at the same time.
type Ticket struct {
	ID              string
	Title           string
	Description     string
	PhaseID         string
	PreviousPhaseID string
	Status          TicketStatus
	Priority        Priority

	Blocked       bool
	BlockedReason string
	BlockedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the ticket.
func (t *Ticket) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("ticket id is required: %w", ErrNotValid)
	}
	if t.Title == "" {
		return fmt.Errorf("ticket title is required: %w", ErrNotValid)
	}
	if t.PhaseID == "" {
		return fmt.Errorf("ticket phase id is required: %w", ErrNotValid)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown priority %q: %w", t.Priority, ErrNotValid)
	}
	return nil
}
