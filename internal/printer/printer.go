package printer

import (
	"github.com/taskmesh/taskmesh/internal/model"
	"github.com/taskmesh/taskmesh/internal/storage"
)

// Printer knows how to print scheduler information in different formats.
type Printer interface {
	PrintTaskList(tasks []model.Task) error
	PrintTask(task model.Task) error
	PrintTicketList(tickets []model.Ticket) error
	PrintBoard(columns []BoardColumn) error
	PrintDiscoveryList(discoveries []model.Discovery) error
	PrintActionList(actions []model.AuthorityAction) error
	PrintHistory(entries []storage.PhaseHistoryEntry) error
	PrintMessage(msg string) error
}

// BoardColumn is one Kanban column of the board view.
type BoardColumn struct {
	Status  model.TicketStatus
	Tickets []model.Ticket
}
