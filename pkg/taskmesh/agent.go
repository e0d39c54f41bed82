package taskmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/model"
)

// RegisterAgentOpts configures agent registration.
type RegisterAgentOpts struct {
	// Name is the agent name (required).
	Name string
	// Capabilities lists what kinds of work the agent can do.
	Capabilities []string
	// Capacity is the number of tasks the agent may run concurrently.
	// Default: 1.
	Capacity int
}

// RegisterAgent registers a new worker agent and returns it with its
// assigned ID.
func (c *Client) RegisterAgent(ctx context.Context, opts RegisterAgentOpts) (*Agent, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = 1
	}

	now := time.Now()
	agent := model.Agent{
		ID:           ulid.Make().String(),
		Name:         opts.Name,
		Capabilities: opts.Capabilities,
		Capacity:     capacity,
		Status:       model.AgentStatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := agent.Validate(); err != nil {
		return nil, mapError(err)
	}

	if err := c.repo.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("could not register agent: %w", mapError(err))
	}

	result := fromInternalAgent(agent)
	return &result, nil
}

// GetAgent returns an agent by ID.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	agent, err := c.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalAgent(*agent)
	return &result, nil
}

// ListAgents returns all registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	agents, err := c.repo.ListAgents(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]Agent, len(agents))
	for i, a := range agents {
		result[i] = fromInternalAgent(a)
	}
	return result, nil
}
