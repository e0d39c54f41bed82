package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// JSONPrinter prints scheduler information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type taskOutput struct {
	ID           string     `json:"id"`
	TicketID     string     `json:"ticket_id"`
	PhaseID      string     `json:"phase_id"`
	Type         string     `json:"type,omitempty"`
	Priority     string     `json:"priority"`
	Status       string     `json:"status"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	Capabilities []string   `json:"required_capabilities,omitempty"`
	Agent        string     `json:"assigned_agent_id,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Error        string     `json:"error,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type ticketOutput struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	PhaseID   string    `json:"phase_id"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Blocked   bool      `json:"blocked"`
	Reason    string    `json:"blocked_reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type boardOutput struct {
	Status  string         `json:"status"`
	Tickets []ticketOutput `json:"tickets"`
}

type discoveryOutput struct {
	ID           string    `json:"id"`
	SourceTaskID string    `json:"source_task_id"`
	Kind         string    `json:"kind"`
	Description  string    `json:"description"`
	Spawned      []string  `json:"spawned_task_ids,omitempty"`
	Resolution   string    `json:"resolution"`
	CreatedAt    time.Time `json:"created_at"`
}

type actionOutput struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Level       string         `json:"level"`
	TargetID    string         `json:"target_id"`
	Reason      string         `json:"reason"`
	InitiatedBy string         `json:"initiated_by,omitempty"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	RevertOf    string         `json:"revert_of,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type historyOutput struct {
	FromPhase string    `json:"from_phase"`
	ToPhase   string    `json:"to_phase"`
	Reason    string    `json:"reason,omitempty"`
	By        string    `json:"transitioned_by,omitempty"`
	At        time.Time `json:"at"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintTaskList prints tasks in JSON format.
func (j *JSONPrinter) PrintTaskList(tasks []model.Task) error {
	items := make([]taskOutput, len(tasks))
	for i, t := range tasks {
		items[i] = newTaskOutput(t)
	}
	return j.encode(items)
}

// PrintTask prints a single task in JSON format.
func (j *JSONPrinter) PrintTask(task model.Task) error {
	return j.encode(newTaskOutput(task))
}

// PrintTicketList prints tickets in JSON format.
func (j *JSONPrinter) PrintTicketList(tickets []model.Ticket) error {
	items := make([]ticketOutput, len(tickets))
	for i, t := range tickets {
		items[i] = newTicketOutput(t)
	}
	return j.encode(items)
}

// PrintBoard prints the Kanban board in JSON format.
func (j *JSONPrinter) PrintBoard(columns []BoardColumn) error {
	items := make([]boardOutput, len(columns))
	for i, col := range columns {
		tickets := make([]ticketOutput, len(col.Tickets))
		for k, t := range col.Tickets {
			tickets[k] = newTicketOutput(t)
		}
		items[i] = boardOutput{Status: string(col.Status), Tickets: tickets}
	}
	return j.encode(items)
}

// PrintDiscoveryList prints discoveries in JSON format.
func (j *JSONPrinter) PrintDiscoveryList(discoveries []model.Discovery) error {
	items := make([]discoveryOutput, len(discoveries))
	for i, d := range discoveries {
		items[i] = discoveryOutput{
			ID:           d.ID,
			SourceTaskID: d.SourceTaskID,
			Kind:         string(d.Kind),
			Description:  d.Description,
			Spawned:      d.SpawnedTaskIDs,
			Resolution:   string(d.Resolution),
			CreatedAt:    d.CreatedAt.UTC(),
		}
	}
	return j.encode(items)
}

// PrintActionList prints authority actions in JSON format.
func (j *JSONPrinter) PrintActionList(actions []model.AuthorityAction) error {
	items := make([]actionOutput, len(actions))
	for i, a := range actions {
		items[i] = actionOutput{
			ID:          a.ID,
			Kind:        string(a.Kind),
			Level:       a.Level.String(),
			TargetID:    a.TargetID,
			Reason:      a.Reason,
			InitiatedBy: a.InitiatedBy,
			Before:      a.Before,
			After:       a.After,
			RevertOf:    a.RevertOf,
			CreatedAt:   a.CreatedAt.UTC(),
		}
	}
	return j.encode(items)
}

// PrintHistory prints phase history in JSON format.
func (j *JSONPrinter) PrintHistory(entries []storage.PhaseHistoryEntry) error {
	items := make([]historyOutput, len(entries))
	for i, e := range entries {
		items[i] = historyOutput{
			FromPhase: e.FromPhase,
			ToPhase:   e.ToPhase,
			Reason:    e.Reason,
			By:        e.TransitionedBy,
			At:        e.At.UTC(),
		}
	}
	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTaskOutput(t model.Task) taskOutput {
	out := taskOutput{
		ID:           t.ID,
		TicketID:     t.TicketID,
		PhaseID:      t.PhaseID,
		Type:         t.Type,
		Priority:     string(t.Priority),
		Status:       string(t.Status),
		DependsOn:    t.DependsOn,
		Capabilities: t.RequiredCapabilities,
		Agent:        t.AssignedAgentID,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		Error:        t.ErrorMessage,
		CreatedAt:    t.CreatedAt.UTC(),
	}
	if t.Deadline != nil {
		u := t.Deadline.UTC()
		out.Deadline = &u
	}
	if t.StartedAt != nil {
		u := t.StartedAt.UTC()
		out.StartedAt = &u
	}
	if t.CompletedAt != nil {
		u := t.CompletedAt.UTC()
		out.CompletedAt = &u
	}
	return out
}

func newTicketOutput(t model.Ticket) ticketOutput {
	return ticketOutput{
		ID:        t.ID,
		Title:     t.Title,
		PhaseID:   t.PhaseID,
		Status:    string(t.Status),
		Priority:  string(t.Priority),
		Blocked:   t.Blocked,
		Reason:    t.BlockedReason,
		CreatedAt: t.CreatedAt.UTC(),
	}
}
