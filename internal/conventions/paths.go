// Package conventions centralizes the filesystem layout of taskmesh data.
package conventions

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDataDir is the default taskmesh data directory name (relative to home).
	DefaultDataDir = ".taskmesh"
	// DBFile is the SQLite database filename.
	DBFile = "taskmesh.db"
	// WorkflowFile is the optional workflow definition filename inside the data dir.
	WorkflowFile = "workflow.yaml"
)

// DataDir returns the default taskmesh data directory for the current user.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home dir: %w", err)
	}
	return filepath.Join(home, DefaultDataDir), nil
}

// DBPath returns the database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// WorkflowPath returns the workflow definition path inside a data directory.
func WorkflowPath(dataDir string) string {
	return filepath.Join(dataDir, WorkflowFile)
}
