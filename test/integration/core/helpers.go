// Package core holds helpers for the scheduler core integration tests.
//
// The tests run the real SDK against a real SQLite database on disk. They
// are activated with TASKMESH_INTEGRATION=true and skipped otherwise.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/pkg/taskmesh"
)

// Activate skips the test unless the integration activation env var is set.
func Activate(t *testing.T) {
	t.Helper()

	const envActivation = "TASKMESH_INTEGRATION"

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}
}

// NewTestClient creates an SDK client with a temp SQLite DB for test isolation.
func NewTestClient(t *testing.T) *taskmesh.Client {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "taskmesh.db")
	ctx := context.Background()

	client, err := taskmesh.New(ctx, taskmesh.Config{DBPath: dbPath})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// UniqueName generates a unique entity name for test isolation.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// DrainPhase pulls and completes every eligible task of the given phase as
// the given agent, reporting the artifacts the phase expects.
func DrainPhase(ctx context.Context, t *testing.T, client *taskmesh.Client, agentID, phaseID string) int {
	t.Helper()

	result := &taskmesh.Result{Summary: "integration run", Artifacts: PhaseArtifacts(client, phaseID)}

	completed := 0
	for {
		task, err := client.NextTask(ctx, agentID, phaseID, nil)
		if err != nil {
			return completed
		}

		err = client.CompleteTask(ctx, task.ID, result)
		require.NoError(t, err)
		completed++
	}
}

// PhaseArtifacts fabricates one artifact per expected output of the phase.
func PhaseArtifacts(client *taskmesh.Client, phaseID string) []taskmesh.Artifact {
	for _, p := range client.Phases() {
		if p.ID != phaseID {
			continue
		}
		artifacts := make([]taskmesh.Artifact, 0, len(p.ExpectedOutputs))
		for _, out := range p.ExpectedOutputs {
			artifacts = append(artifacts, taskmesh.Artifact{
				Type: out.Type,
				Path: strings.ReplaceAll(out.Pattern, "*", "out"),
			})
		}
		return artifacts
	}
	return nil
}
