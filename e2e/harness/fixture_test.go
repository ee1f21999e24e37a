package harness

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFixture(t *testing.T) {
	buildBinary := "/fake/path/to/build"
	fixture, err := NewFixture(t, buildBinary)
	if err != nil {
		t.Fatalf("NewFixture failed: %v", err)
	}

	// Verify fixture fields are set
	if fixture.TempDir == "" {
		t.Error("TempDir is empty")
	}
	if fixture.WorkDir == "" {
		t.Error("WorkDir is empty")
	}
	if fixture.BuildBinary != buildBinary {
		t.Errorf("BuildBinary = %s, want %s", fixture.BuildBinary, buildBinary)
	}

	// Verify work directory exists
	if _, err := os.Stat(fixture.WorkDir); err != nil {
		t.Errorf("WorkDir does not exist: %v", err)
	}
}

func TestFixtureWritePlan(t *testing.T) {
	fixture, err := NewFixture(t, "/fake/path/to/build")
	if err != nil {
		t.Fatalf("NewFixture failed: %v", err)
	}

	path, err := fixture.WritePlan("steps:\n  - command: echo hi\n")
	if err != nil {
		t.Fatalf("WritePlan failed: %v", err)
	}
	if path != filepath.Join(fixture.WorkDir, PlanFile) {
		t.Errorf("WritePlan() path = %s, want %s", path, filepath.Join(fixture.WorkDir, PlanFile))
	}

	got, err := fixture.ReadFile(PlanFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got != "steps:\n  - command: echo hi\n" {
		t.Errorf("ReadFile() = %q", got)
	}
}

func TestFixtureWriteFileCreatesDirs(t *testing.T) {
	fixture, err := NewFixture(t, "/fake/path/to/build")
	if err != nil {
		t.Fatalf("NewFixture failed: %v", err)
	}

	if _, err := fixture.WriteFile(filepath.Join("mono", "build.ps1"), "msbuild /nr:false"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fixture.WorkDir, "mono", "build.ps1")); err != nil {
		t.Errorf("file was not written: %v", err)
	}

	if _, err := fixture.ReadFile("missing.txt"); err == nil {
		t.Error("ReadFile() succeeded on a missing file")
	}
}
