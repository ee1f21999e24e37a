package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scenario represents a complete E2E test scenario
type Scenario struct {
	Name        string
	Description string
	// Plan is written to the fixture's build.yaml before Setup runs.
	Plan   string
	Setup  func(*Fixture) error
	Steps  []Step
	Verify []Assertion
}

// Step represents a single command to execute in the test
type Step struct {
	Cmd  string
	Args []string
}

// Result captures the output of a command execution
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Pwd      string // Current working directory after command
}

// Assertion is a function that validates test results
type Assertion func(*Result, *Fixture) error

// Common assertion builders

// AssertExitCode verifies the exit code matches expected value
func AssertExitCode(expected int) Assertion {
	return func(r *Result, f *Fixture) error {
		if r.ExitCode != expected {
			return fmt.Errorf("exit code: expected %d, got %d", expected, r.ExitCode)
		}
		return nil
	}
}

// AssertStdoutContains verifies stdout contains the expected string
func AssertStdoutContains(expected string) Assertion {
	return func(r *Result, f *Fixture) error {
		if !contains(r.Stdout, expected) {
			return fmt.Errorf("stdout does not contain %q\nGot: %s", expected, r.Stdout)
		}
		return nil
	}
}

// AssertStdoutNotContains verifies stdout does not contain the string
func AssertStdoutNotContains(unexpected string) Assertion {
	return func(r *Result, f *Fixture) error {
		if contains(r.Stdout, unexpected) {
			return fmt.Errorf("stdout contains %q\nGot: %s", unexpected, r.Stdout)
		}
		return nil
	}
}

// AssertStderrContains verifies stderr contains the expected string
func AssertStderrContains(expected string) Assertion {
	return func(r *Result, f *Fixture) error {
		if !contains(r.Stderr, expected) {
			return fmt.Errorf("stderr does not contain %q\nGot: %s", expected, r.Stderr)
		}
		return nil
	}
}

// AssertFileContains verifies a file under the work dir contains the string
// Supports variable expansion: $WORK_DIR
func AssertFileContains(name, expected string) Assertion {
	return func(r *Result, f *Fixture) error {
		path := expandVars(name, f)
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.WorkDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if !contains(string(data), expected) {
			return fmt.Errorf("%s does not contain %q\nGot: %s", name, expected, data)
		}
		return nil
	}
}

// AssertPwdEquals verifies the current directory matches expected
// Supports variable expansion: $WORK_DIR, $TEMP_DIR
func AssertPwdEquals(expected string) Assertion {
	return func(r *Result, f *Fixture) error {
		expandedExpected := expandVars(expected, f)
		if r.Pwd != expandedExpected {
			return fmt.Errorf("pwd: expected %q, got %q", expandedExpected, r.Pwd)
		}
		return nil
	}
}

// Helper functions

func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}

func expandVars(s string, f *Fixture) string {
	// Replace longer names first to avoid partial matches
	return strings.NewReplacer(
		"$WORK_DIR", f.WorkDir,
		"$TEMP_DIR", f.TempDir,
	).Replace(s)
}
