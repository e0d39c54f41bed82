package taskmesh

// PhaseOutput describes an artifact a phase is expected to produce. Required
// outputs gate phase advancement: a completed task of the phase must report a
// matching artifact before the ticket can move on.
type PhaseOutput struct {
	// Type is the artifact type (e.g. "document", "code").
	Type string
	// Pattern is a path.Match glob the artifact path must satisfy. Empty
	// matches any path.
	Pattern string
	// Required gates advancement when true.
	Required bool
}

// PhaseTaskTemplate describes a task materialized when a ticket enters a
// phase.
type PhaseTaskTemplate struct {
	Type                 string
	Description          string
	Priority             Priority
	RequiredCapabilities []string
}

// Phase is an ordered workflow stage definition.
type Phase struct {
	ID                string
	Name              string
	Description       string
	Sequence          int
	AllowedSuccessors []string
	Terminal          bool
	// DoneCriteria are human-readable completion hints for agents.
	DoneCriteria    []string
	ExpectedOutputs []PhaseOutput
	Instructions    string
	TaskTemplates   []PhaseTaskTemplate
	// KanbanStatus is the board column a ticket shows while in this phase.
	KanbanStatus TicketStatus
}

// Phases returns the workflow phase definitions in sequence order.
func (c *Client) Phases() []Phase {
	internal := c.registry.All()

	out := make([]Phase, len(internal))
	for i, p := range internal {
		outputs := make([]PhaseOutput, len(p.ExpectedOutputs))
		for j, o := range p.ExpectedOutputs {
			outputs[j] = PhaseOutput{Type: o.Type, Pattern: o.Pattern, Required: o.Required}
		}
		templates := make([]PhaseTaskTemplate, len(p.TaskTemplates))
		for j, tpl := range p.TaskTemplates {
			templates[j] = PhaseTaskTemplate{
				Type:                 tpl.Type,
				Description:          tpl.Description,
				Priority:             Priority(tpl.Priority),
				RequiredCapabilities: tpl.RequiredCapabilities,
			}
		}
		out[i] = Phase{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			Sequence:          p.Sequence,
			AllowedSuccessors: p.AllowedSuccessors,
			Terminal:          p.Terminal,
			DoneCriteria:      p.DoneCriteria,
			ExpectedOutputs:   outputs,
			Instructions:      p.Instructions,
			TaskTemplates:     templates,
			KanbanStatus:      TicketStatus(p.KanbanStatus),
		}
	}
	return out
}
