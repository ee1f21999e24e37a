package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PlanFile is the plan name the fixture writes and the build binary reads
// by default.
const PlanFile = "build.yaml"

// Fixture represents a test environment with a temporary work directory
type Fixture struct {
	t           *testing.T
	TempDir     string
	WorkDir     string
	BuildBinary string
}

// NewFixture creates a new test fixture with an empty work directory
func NewFixture(t *testing.T, buildBinary string) (*Fixture, error) {
	t.Helper()

	tmpDir := t.TempDir()
	workDir := filepath.Join(tmpDir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	return &Fixture{
		t:           t,
		TempDir:     tmpDir,
		WorkDir:     workDir,
		BuildBinary: buildBinary,
	}, nil
}

// WritePlan writes a plan to build.yaml in the work directory
func (f *Fixture) WritePlan(content string) (string, error) {
	return f.WriteFile(PlanFile, content)
}

// WriteFile writes content to a file relative to the work directory
func (f *Fixture) WriteFile(name, content string) (string, error) {
	path := filepath.Join(f.WorkDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// ReadFile reads a file relative to the work directory
func (f *Fixture) ReadFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.WorkDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}
