package model

import (
	"fmt"
	"strings"
	"time"
)

// AuthorityLevel is a ranked permission tier governing who may override
// scheduling decisions. Higher values outrank lower ones.
type AuthorityLevel int

const (
	AuthorityWorker   AuthorityLevel = 1
	AuthorityWatchdog AuthorityLevel = 2
	AuthorityMonitor  AuthorityLevel = 3
	AuthorityGuardian AuthorityLevel = 4
	AuthoritySystem   AuthorityLevel = 5
)

var authorityNames = map[AuthorityLevel]string{
	AuthorityWorker:   "WORKER",
	AuthorityWatchdog: "WATCHDOG",
	AuthorityMonitor:  "MONITOR",
	AuthorityGuardian: "GUARDIAN",
	AuthoritySystem:   "SYSTEM",
}

func (l AuthorityLevel) String() string {
	if name, ok := authorityNames[l]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(l))
}

// Valid reports whether the level is a known tier.
func (l AuthorityLevel) Valid() bool {
	_, ok := authorityNames[l]
	return ok
}

// ParseAuthorityLevel parses an authority level name, case-insensitively.
func ParseAuthorityLevel(name string) (AuthorityLevel, error) {
	upper := strings.ToUpper(name)
	for level, n := range authorityNames {
		if n == upper {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown authority level %q: %w", name, ErrNotValid)
}

// ActionKind is the type of a supervisory intervention.
type ActionKind string

const (
	ActionCancelTask       ActionKind = "cancel_task"
	ActionOverridePriority ActionKind = "override_priority"
	ActionReassignCapacity ActionKind = "reassign_capacity"
	ActionBlockTicket      ActionKind = "block_ticket"
	ActionRevert           ActionKind = "revert"
)

// AuthorityAction is the append-only audit record of a supervisory
// intervention. Actions are never deleted; a revert links back to its target.
type AuthorityAction struct {
	ID          string
	Kind        ActionKind
	Level       AuthorityLevel
	TargetID    string
	Reason      string
	InitiatedBy string
	Before      map[string]any
	After       map[string]any
	RevertOf    string
	CreatedAt   time.Time
}

// Validate validates the action record.
func (a *AuthorityAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required: %w", ErrNotValid)
	}
	if a.Kind == "" {
		return fmt.Errorf("action kind is required: %w", ErrNotValid)
	}
	if !a.Level.Valid() {
		return fmt.Errorf("unknown authority level %d: %w", a.Level, ErrNotValid)
	}
	if a.TargetID == "" {
		return fmt.Errorf("action target is required: %w", ErrNotValid)
	}
	if a.Reason == "" {
		return fmt.Errorf("action reason is required: %w", ErrNotValid)
	}
	return nil
}
