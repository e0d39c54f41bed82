// Package taskmesh provides a Go SDK for embedding the taskmesh scheduler
// core programmatically.
//
// This package allows applications to create tickets, enqueue tasks, pull
// work as an agent, and audit overrides without shelling out to the taskmesh
// CLI binary. It is useful for building agent runtimes, dashboards, and
// automation on top of the scheduler.
//
// # Quick Start
//
// Create a client, open a ticket, and move work through it:
//
//	client, err := taskmesh.New(ctx, taskmesh.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ticket, _ := client.CreateTicket(ctx, taskmesh.CreateTicketOpts{
//	    Title:    "Add retry support",
//	    Priority: taskmesh.PriorityHigh,
//	})
//	client.TransitionTicket(ctx, ticket.ID, "PHASE_REQUIREMENTS", "me", "kickoff")
//
//	// Agent side: pull from the phase being worked, work, report.
//	task, _ := client.NextTask(ctx, "agent-1", "PHASE_REQUIREMENTS", []string{"golang"})
//	client.CompleteTask(ctx, task.ID, &taskmesh.Result{Summary: "done"})
//
// # Storage
//
// By default the client persists to a SQLite database under ~/.taskmesh.
// Set [Config].InMemory for ephemeral runs and tests; no files are written
// and all state is lost on Close.
//
// # Discoveries
//
// Agents record what they find mid-task, optionally branching follow-up work
// in the same call:
//
//	d, branch, _ := client.RecordDiscoveryAndBranch(ctx, task.ID,
//	    taskmesh.DiscoveryBug, "found an off-by-one", taskmesh.BranchOpts{
//	        TaskType:      "fix_bug",
//	        PriorityBoost: true,
//	    })
//
// # Authority Overrides
//
// Supervisory roles intervene through ranked, audited overrides:
//
//	client.EmergencyCancel(ctx, taskmesh.Override{
//	    Level:  taskmesh.AuthorityGuardian,
//	    Reason: "runaway agent",
//	}, task.ID)
//
// Every override leaves an append-only [AuthorityAction] record and can be
// reverted with [Client.RevertAction].
//
// # Events
//
// Subscribe to scheduler state changes. Delivery is best effort: a slow
// consumer never blocks scheduling, saturated subscribers drop events.
//
//	events, cancel := client.Events()
//	defer cancel()
//	for e := range events {
//	    fmt.Println(e.Type, e.EntityID)
//	}
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Resource does not exist.
//   - [ErrNotValid]: Invalid input or operation.
//   - [ErrPermission]: Authority level below the operation threshold.
//   - [ErrNoEligibleTask]: No pending task matches the requesting agent.
//   - [ErrCycle]: A task dependency would close a cycle.
//   - [ErrInvalidTransition]: Illegal ticket status move.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. Task
// assignment is race free: two agents can never claim the same task.
package taskmesh
