package taskmesh_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskmesh/taskmesh/pkg/taskmesh"
)

// This example shows how to create an in-memory client for testing.
func Example_testing() {
	ctx := context.Background()

	client, err := taskmesh.New(ctx, taskmesh.Config{InMemory: true})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ticket, err := client.CreateTicket(ctx, taskmesh.CreateTicketOpts{
		Title:    "Add retry support",
		Priority: taskmesh.PriorityHigh,
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Created: %s (status: %s)\n", ticket.Title, ticket.Status)

	// Output:
	// Created: Add retry support (status: backlog)
}

// This example shows the agent loop: pull the next task, work, report.
func Example_agent() {
	ctx := context.Background()

	client, err := taskmesh.New(ctx, taskmesh.Config{InMemory: true})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ticket, err := client.CreateTicket(ctx, taskmesh.CreateTicketOpts{
		Title:    "Fix the pager",
		Priority: taskmesh.PriorityMedium,
	})
	if err != nil {
		panic(err)
	}

	task, err := client.EnqueueTask(ctx, taskmesh.EnqueueTaskOpts{
		TicketID:    ticket.ID,
		PhaseID:     "PHASE_IMPLEMENTATION",
		Type:        "fix_bug",
		Description: "Fix the off-by-one in the pager",
		Priority:    taskmesh.PriorityMedium,
	})
	if err != nil {
		panic(err)
	}

	// Agent side.
	claimed, err := client.NextTask(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	if err != nil {
		panic(err)
	}
	err = client.CompleteTask(ctx, claimed.ID, &taskmesh.Result{Summary: "fixed"})
	if err != nil {
		panic(err)
	}

	done, err := client.GetTask(ctx, task.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Task %s: %s\n", done.Type, done.Status)

	// A second pull finds nothing left.
	_, err = client.NextTask(ctx, "agent-1", "PHASE_IMPLEMENTATION", nil)
	fmt.Println(errors.Is(err, taskmesh.ErrNoEligibleTask))

	// Output:
	// Task fix_bug: completed
	// true
}
