package model

import (
	"fmt"
	"time"
)

// Priority represents the priority tier of a task.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 4,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
}

// Valid reports whether the priority is a known tier.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the numeric rank of the tier (CRITICAL=4 .. LOW=1), 0 for unknown.
func (p Priority) Rank() int { return priorityRank[p] }

// Boost returns the priority one tier up, capped at CRITICAL.
func (p Priority) Boost() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh, PriorityCritical:
		return PriorityCritical
	}
	return PriorityHigh
}

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Artifact is an output produced by a completed task.
type Artifact struct {
	Type    string
	Path    string
	Content string
}

// Result is the typed payload reported by an agent when a task finishes.
// Data carries agent-specific context; SchemaVersion declares its layout.
type Result struct {
	SchemaVersion int
	Summary       string
	Artifacts     []Artifact
	Data          map[string]any
}

// Task is the atomic, phase-scoped, dependency-aware unit of work within a ticket.
type Task struct {
	ID           string
	TicketID     string
	PhaseID      string
	Type         string
	Description  string
	Priority     Priority
	Status       TaskStatus
	DependsOn    []string
	Deadline     *time.Time
	ParentTaskID string

	RequiredCapabilities []string
	AssignedAgentID      string

	RetryCount int
	MaxRetries int
	Timeout    time.Duration

	Result       *Result
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Validate validates the task before insertion.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.TicketID == "" {
		return fmt.Errorf("ticket id is required: %w", ErrNotValid)
	}
	if t.PhaseID == "" {
		return fmt.Errorf("phase id is required: %w", ErrNotValid)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown priority %q: %w", t.Priority, ErrNotValid)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %w", ErrNotValid)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %s depends on itself: %w", t.ID, ErrCycle)
		}
	}
	return nil
}
