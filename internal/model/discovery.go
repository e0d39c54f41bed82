package model

import (
	"fmt"
	"sort"
	"time"
)

// DiscoveryKind classifies what an agent found mid-task.
type DiscoveryKind string

const (
	DiscoveryBug                 DiscoveryKind = "bug"
	DiscoveryOptimization        DiscoveryKind = "optimization"
	DiscoveryClarificationNeeded DiscoveryKind = "clarification_needed"
	DiscoveryNewComponent        DiscoveryKind = "new_component"
	DiscoverySecurity            DiscoveryKind = "security"
	DiscoveryPerformance         DiscoveryKind = "performance"
	DiscoveryMissingRequirement  DiscoveryKind = "missing_requirement"
	DiscoveryIntegrationIssue    DiscoveryKind = "integration_issue"
	DiscoveryTechnicalDebt       DiscoveryKind = "technical_debt"
	// DiscoveryDiagnostic is recorded by the housekeeper when a task exhausts
	// its retries, leaving a trail for supervisory roles.
	DiscoveryDiagnostic DiscoveryKind = "diagnostic_no_result"
)

var discoveryKinds = map[DiscoveryKind]bool{
	DiscoveryBug:                 true,
	DiscoveryOptimization:        true,
	DiscoveryClarificationNeeded: true,
	DiscoveryNewComponent:        true,
	DiscoverySecurity:            true,
	DiscoveryPerformance:         true,
	DiscoveryMissingRequirement:  true,
	DiscoveryIntegrationIssue:    true,
	DiscoveryTechnicalDebt:       true,
	DiscoveryDiagnostic:          true,
}

// Valid reports whether the kind is known.
func (k DiscoveryKind) Valid() bool { return discoveryKinds[k] }

// DiscoveryKinds returns every known kind, sorted by name.
func DiscoveryKinds() []DiscoveryKind {
	kinds := make([]DiscoveryKind, 0, len(discoveryKinds))
	for k := range discoveryKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ResolutionStatus is the lifecycle of a discovery record.
type ResolutionStatus string

const (
	ResolutionOpen     ResolutionStatus = "open"
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionInvalid  ResolutionStatus = "invalid"
)

// Discovery records something an agent found while executing a task. The
// record is append-only except for its resolution status.
type Discovery struct {
	ID             string
	SourceTaskID   string
	Kind           DiscoveryKind
	Description    string
	SpawnedTaskIDs []string
	PriorityBoost  bool
	Resolution     ResolutionStatus
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Validate validates the discovery record.
func (d *Discovery) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("discovery id is required: %w", ErrNotValid)
	}
	if d.SourceTaskID == "" {
		return fmt.Errorf("source task id is required: %w", ErrNotValid)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown discovery kind %q: %w", d.Kind, ErrNotValid)
	}
	if d.Description == "" {
		return fmt.Errorf("discovery description is required: %w", ErrNotValid)
	}
	return nil
}
