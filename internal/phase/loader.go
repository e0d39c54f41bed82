package phase

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/taskmesh/internal/model"
)

type workflowYAML struct {
	Name   string      `yaml:"name"`
	Phases []phaseYAML `yaml:"phases"`
}

type phaseYAML struct {
	ID                string         `yaml:"id"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	Sequence          int            `yaml:"sequence"`
	AllowedSuccessors []string       `yaml:"allowed_successors"`
	Terminal          bool           `yaml:"terminal"`
	KanbanStatus      string         `yaml:"kanban_status"`
	DoneCriteria      []string       `yaml:"done_criteria"`
	ExpectedOutputs   []outputYAML   `yaml:"expected_outputs"`
	Instructions      string         `yaml:"instructions"`
	Tasks             []templateYAML `yaml:"tasks"`
}

type outputYAML struct {
	Type     string `yaml:"type"`
	Pattern  string `yaml:"pattern"`
	Required bool   `yaml:"required"`
}

type templateYAML struct {
	Type         string   `yaml:"type"`
	Description  string   `yaml:"description"`
	Priority     string   `yaml:"priority"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadFile loads a workflow definition from a YAML file.
func LoadFile(path string) ([]model.Phase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read workflow file: %w", err)
	}

	return Load(data)
}

// Load parses a workflow definition from YAML data.
func Load(data []byte) ([]model.Phase, error) {
	wf := workflowYAML{}
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("could not parse workflow yaml: %w", err)
	}
	if len(wf.Phases) == 0 {
		return nil, fmt.Errorf("workflow has no phases: %w", model.ErrNotValid)
	}

	phases := make([]model.Phase, 0, len(wf.Phases))
	for _, p := range wf.Phases {
		phase := model.Phase{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			Sequence:          p.Sequence,
			AllowedSuccessors: p.AllowedSuccessors,
			Terminal:          p.Terminal,
			KanbanStatus:      model.TicketStatus(p.KanbanStatus),
			DoneCriteria:      p.DoneCriteria,
			Instructions:      p.Instructions,
		}
		for _, out := range p.ExpectedOutputs {
			phase.ExpectedOutputs = append(phase.ExpectedOutputs, model.PhaseOutput{
				Type:     out.Type,
				Pattern:  out.Pattern,
				Required: out.Required,
			})
		}
		for _, tpl := range p.Tasks {
			priority := model.Priority(tpl.Priority)
			if tpl.Priority == "" {
				priority = model.PriorityMedium
			}
			phase.TaskTemplates = append(phase.TaskTemplates, model.TaskTemplate{
				Type:                 tpl.Type,
				Description:          tpl.Description,
				Priority:             priority,
				RequiredCapabilities: tpl.Capabilities,
			})
		}
		phases = append(phases, phase)
	}

	return phases, nil
}

// DefaultWorkflow returns the built-in software development workflow used when
// no workflow file is configured.
func DefaultWorkflow() []model.Phase {
	return []model.Phase{
		{
			ID:                "PHASE_BACKLOG",
			Name:              "Backlog",
			Sequence:          0,
			AllowedSuccessors: []string{"PHASE_REQUIREMENTS"},
			KanbanStatus:      model.TicketStatusBacklog,
			DoneCriteria:      []string{"Ticket triaged and accepted"},
		},
		{
			ID:                "PHASE_REQUIREMENTS",
			Name:              "Requirements",
			Sequence:          1,
			AllowedSuccessors: []string{"PHASE_DESIGN"},
			KanbanStatus:      model.TicketStatusAnalyzing,
			DoneCriteria:      []string{"Requirements documented", "Acceptance criteria defined"},
			ExpectedOutputs: []model.PhaseOutput{
				{Type: "document", Pattern: "requirements*.md", Required: true},
			},
			TaskTemplates: []model.TaskTemplate{
				{Type: "analyze_requirements", Description: "Analyze and document requirements", Priority: model.PriorityMedium},
			},
		},
		{
			ID:                "PHASE_DESIGN",
			Name:              "Design",
			Sequence:          2,
			AllowedSuccessors: []string{"PHASE_IMPLEMENTATION"},
			KanbanStatus:      model.TicketStatusAnalyzing,
			DoneCriteria:      []string{"Design reviewed"},
			ExpectedOutputs: []model.PhaseOutput{
				{Type: "document", Pattern: "design*.md", Required: true},
			},
			TaskTemplates: []model.TaskTemplate{
				{Type: "create_design", Description: "Produce the technical design", Priority: model.PriorityMedium},
			},
		},
		{
			ID:                "PHASE_IMPLEMENTATION",
			Name:              "Implementation",
			Sequence:          3,
			AllowedSuccessors: []string{"PHASE_REVIEW"},
			KanbanStatus:      model.TicketStatusBuilding,
			DoneCriteria:      []string{"Code implemented with tests"},
			ExpectedOutputs: []model.PhaseOutput{
				{Type: "code", Pattern: "**", Required: true},
			},
			TaskTemplates: []model.TaskTemplate{
				{Type: "implement_feature", Description: "Implement the feature", Priority: model.PriorityMedium},
			},
		},
		{
			ID:                "PHASE_REVIEW",
			Name:              "Review",
			Sequence:          4,
			AllowedSuccessors: []string{"PHASE_TESTING"},
			KanbanStatus:      model.TicketStatusBuildingDone,
			DoneCriteria:      []string{"Code reviewed"},
			TaskTemplates: []model.TaskTemplate{
				{Type: "review_code", Description: "Review the implemented change", Priority: model.PriorityMedium},
			},
		},
		{
			ID:                "PHASE_TESTING",
			Name:              "Testing",
			Sequence:          5,
			AllowedSuccessors: []string{"PHASE_DEPLOYMENT", "PHASE_IMPLEMENTATION"},
			KanbanStatus:      model.TicketStatusTesting,
			DoneCriteria:      []string{"All tests pass"},
			ExpectedOutputs: []model.PhaseOutput{
				{Type: "test_results", Pattern: "results*", Required: true},
			},
			TaskTemplates: []model.TaskTemplate{
				{Type: "validate_feature", Description: "Validate the implemented feature", Priority: model.PriorityMedium},
			},
		},
		{
			ID:           "PHASE_DEPLOYMENT",
			Name:         "Deployment",
			Sequence:     6,
			Terminal:     true,
			KanbanStatus: model.TicketStatusDone,
			DoneCriteria: []string{"Change deployed"},
		},
	}
}
