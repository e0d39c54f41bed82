package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// TablePrinter prints scheduler information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintTaskList prints tasks in a table format.
func (t *TablePrinter) PrintTaskList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTICKET\tPHASE\tPRIORITY\tSTATUS\tAGENT\tCREATED")

	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID,
			task.TicketID,
			task.PhaseID,
			task.Priority,
			task.Status,
			orDash(task.AssignedAgentID),
			TimeAgo(task.CreatedAt),
		)
	}

	return nil
}

// PrintTask prints detailed task information.
func (t *TablePrinter) PrintTask(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:           %s\n", task.ID)
	fmt.Fprintf(t.writer, "Ticket:       %s\n", task.TicketID)
	fmt.Fprintf(t.writer, "Phase:        %s\n", task.PhaseID)
	if task.Type != "" {
		fmt.Fprintf(t.writer, "Type:         %s\n", task.Type)
	}
	fmt.Fprintf(t.writer, "Priority:     %s\n", task.Priority)
	fmt.Fprintf(t.writer, "Status:       %s\n", task.Status)
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(t.writer, "Depends on:   %s\n", strings.Join(task.DependsOn, ", "))
	}
	if len(task.RequiredCapabilities) > 0 {
		fmt.Fprintf(t.writer, "Capabilities: %s\n", strings.Join(task.RequiredCapabilities, ", "))
	}
	if task.AssignedAgentID != "" {
		fmt.Fprintf(t.writer, "Agent:        %s\n", task.AssignedAgentID)
	}
	if task.MaxRetries > 0 {
		fmt.Fprintf(t.writer, "Retries:      %d/%d\n", task.RetryCount, task.MaxRetries)
	}
	if task.Deadline != nil {
		fmt.Fprintf(t.writer, "Deadline:     %s\n", FormatTimestamp(*task.Deadline))
	}
	if task.ErrorMessage != "" {
		fmt.Fprintf(t.writer, "Error:        %s\n", task.ErrorMessage)
	}
	if task.Result != nil && task.Result.Summary != "" {
		fmt.Fprintf(t.writer, "Result:       %s\n", task.Result.Summary)
	}
	fmt.Fprintf(t.writer, "Created:      %s\n", FormatTimestamp(task.CreatedAt))
	if task.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:      %s\n", FormatTimestamp(*task.StartedAt))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:    %s\n", FormatTimestamp(*task.CompletedAt))
	}

	return nil
}

// PrintTicketList prints tickets in a table format.
func (t *TablePrinter) PrintTicketList(tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTITLE\tPHASE\tSTATUS\tPRIORITY\tBLOCKED\tCREATED")

	for _, tk := range tickets {
		blocked := "no"
		if tk.Blocked {
			blocked = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tk.ID,
			tk.Title,
			tk.PhaseID,
			tk.Status,
			tk.Priority,
			blocked,
			TimeAgo(tk.CreatedAt),
		)
	}

	return nil
}

// PrintBoard prints the Kanban board, one section per column.
func (t *TablePrinter) PrintBoard(columns []BoardColumn) error {
	for _, col := range columns {
		fmt.Fprintf(t.writer, "%s (%d)\n", strings.ToUpper(string(col.Status)), len(col.Tickets))
		for _, tk := range col.Tickets {
			marker := " "
			if tk.Blocked {
				marker = "!"
			}
			fmt.Fprintf(t.writer, " %s %s  %s [%s]\n", marker, tk.ID, tk.Title, tk.Priority)
		}
		fmt.Fprintln(t.writer)
	}

	return nil
}

// PrintDiscoveryList prints discoveries in a table format.
func (t *TablePrinter) PrintDiscoveryList(discoveries []model.Discovery) error {
	if len(discoveries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSOURCE TASK\tKIND\tRESOLUTION\tBRANCHES\tCREATED")

	for _, d := range discoveries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID,
			d.SourceTaskID,
			d.Kind,
			d.Resolution,
			len(d.SpawnedTaskIDs),
			TimeAgo(d.CreatedAt),
		)
	}

	return nil
}

// PrintActionList prints authority actions in a table format.
func (t *TablePrinter) PrintActionList(actions []model.AuthorityAction) error {
	if len(actions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tKIND\tLEVEL\tTARGET\tREASON\tCREATED")

	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Kind,
			a.Level,
			a.TargetID,
			a.Reason,
			TimeAgo(a.CreatedAt),
		)
	}

	return nil
}

// PrintHistory prints the phase transitions of a ticket.
func (t *TablePrinter) PrintHistory(entries []storage.PhaseHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "FROM\tTO\tBY\tREASON\tWHEN")

	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.FromPhase,
			e.ToPhase,
			orDash(e.TransitionedBy),
			e.Reason,
			FormatTimestamp(e.At),
		)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
