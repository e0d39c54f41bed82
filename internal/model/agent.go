package model

import (
	"fmt"
	"time"
)

// AgentStatus represents the availability of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent is a registered worker that pulls tasks from the scheduler. Capacity
// is the number of tasks it may run concurrently and can be reallocated by an
// authority action.
type Agent struct {
	ID           string
	Name         string
	Capabilities []string
	Capacity     int
	Status       AgentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the agent.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required: %w", ErrNotValid)
	}
	if a.Name == "" {
		return fmt.Errorf("agent name is required: %w", ErrNotValid)
	}
	if a.Capacity < 0 {
		return fmt.Errorf("agent capacity must not be negative: %w", ErrNotValid)
	}
	return nil
}
