package harness

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// Runner executes scenarios through shell adapters
type Runner struct {
	t           *testing.T
	adapter     ShellAdapter
	fixture     *Fixture
	buildBinary string
}

// NewRunner creates a new test runner
func NewRunner(t *testing.T, adapter ShellAdapter) (*Runner, error) {
	t.Helper()

	// Get build binary path from environment or build it
	buildBinary, err := getBuildBinary(t)
	if err != nil {
		return nil, fmt.Errorf("failed to get build binary: %w", err)
	}

	// Create fixture
	fixture, err := NewFixture(t, buildBinary)
	if err != nil {
		return nil, fmt.Errorf("failed to create fixture: %w", err)
	}

	// Setup the shell adapter
	if err := adapter.Setup(buildBinary, fixture.WorkDir); err != nil {
		return nil, fmt.Errorf("failed to setup adapter: %w", err)
	}

	return &Runner{
		t:           t,
		adapter:     adapter,
		fixture:     fixture,
		buildBinary: buildBinary,
	}, nil
}

// Fixture returns the runner's fixture
func (r *Runner) Fixture() *Fixture {
	return r.fixture
}

// Run executes a scenario and reports results
func (r *Runner) Run(scenario Scenario) error {
	r.t.Helper()

	r.t.Logf("Running scenario: %s", scenario.Name)
	if scenario.Description != "" {
		r.t.Logf("  Description: %s", scenario.Description)
	}

	// Write the plan
	if scenario.Plan != "" {
		if _, err := r.fixture.WritePlan(scenario.Plan); err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}
	}

	// Execute setup
	if scenario.Setup != nil {
		r.t.Logf("  Running setup...")
		if err := scenario.Setup(r.fixture); err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}
	}

	// Execute steps
	var lastResult *Result
	for i, step := range scenario.Steps {
		r.t.Logf("  Step %d: %s %v", i+1, step.Cmd, step.Args)

		result, err := r.adapter.Execute(step.Cmd, step.Args)
		if err != nil {
			return fmt.Errorf("step %d failed: %w", i+1, err)
		}

		lastResult = result
		r.t.Logf("    Exit code: %d", result.ExitCode)
		if result.Pwd != "" {
			r.t.Logf("    Pwd: %s", result.Pwd)
		}
		if result.Stdout != "" {
			r.t.Logf("    Stdout: %s", result.Stdout)
		}
		if result.Stderr != "" {
			r.t.Logf("    Stderr: %s", result.Stderr)
		}
	}

	// Run assertions
	if lastResult != nil && len(scenario.Verify) > 0 {
		r.t.Logf("  Running %d assertions...", len(scenario.Verify))
		for i, assertion := range scenario.Verify {
			if err := assertion(lastResult, r.fixture); err != nil {
				return fmt.Errorf("assertion %d failed: %w", i+1, err)
			}
			r.t.Logf("    Assertion %d: ✓", i+1)
		}
	}

	r.t.Logf("  ✓ Scenario passed: %s", scenario.Name)
	return nil
}

// Cleanup cleans up the runner resources
func (r *Runner) Cleanup() error {
	if r.adapter != nil {
		return r.adapter.Cleanup()
	}
	return nil
}

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
)

// getBuildBinary returns the path to the build binary
// Checks BUILD_BINARY env var, or builds from source once per test binary
func getBuildBinary(t *testing.T) (string, error) {
	t.Helper()

	// Check environment variable
	if binary := os.Getenv("BUILD_BINARY"); binary != "" {
		// Verify it exists
		if _, err := os.Stat(binary); err == nil {
			return filepath.Abs(binary)
		}
		t.Logf("BUILD_BINARY set but file not found: %s", binary)
	}

	buildOnce.Do(func() {
		t.Logf("Building build from source...")
		builtBinary, buildErr = buildFromSource()
	})
	return builtBinary, buildErr
}

// buildFromSource compiles the module's main package into a temp dir
func buildFromSource() (string, error) {
	root, err := moduleRoot()
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "build-e2e-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	name := "build"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	binaryPath := filepath.Join(dir, name)

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("go build failed: %w\nOutput: %s", err, output)
	}
	return binaryPath, nil
}

// moduleRoot walks up from the working directory to the nearest go.mod
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
