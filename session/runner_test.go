//go:build !windows

package session

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vojkodrev/build/plan"
)

func newShellRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping shell session test in short mode")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	if opts.Shell == nil {
		opts.Shell = []string{"sh"}
	}
	if opts.Flags == nil {
		opts.Flags = plan.NewFlags()
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r
}

func TestRunnerCompletes(t *testing.T) {
	var out bytes.Buffer
	r := newShellRunner(t, Options{Stdout: &out})

	steps := []plan.Step{
		{Command: "echo ready"},
		{Expect: "ready\n", Command: "echo '0 errors'; echo DONE"},
		{Expect: "DONE\n", Success: plan.Condition{"0 errors"}},
	}
	require.NoError(t, r.Run(context.Background(), steps))
	assert.Equal(t, PhaseCompleted, r.Phase())
	assert.Contains(t, out.String(), "0 errors\nDONE\n")
}

func TestRunnerFailsOnFinalCheck(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{
		{Command: "echo ready"},
		{Expect: "ready\n", Command: "echo '1 error'; echo DONE"},
		{Expect: "DONE\n", Success: plan.Condition{"0 errors"}},
	}
	err := r.Run(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSuccessCondition)
	assert.Equal(t, PhaseFailed, r.Phase())
}

func TestRunnerFailsOnStderrMarker(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{
		{Command: "echo 'FATAL: no living connections' >&2", Error: plan.Condition{"fatal"}},
		{Expect: "never printed", Command: "echo unreachable"},
	}
	err := r.Run(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrErrorCondition)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, Stderr, stepErr.Stream)
}

func TestRunnerSkipsInactiveSteps(t *testing.T) {
	var out bytes.Buffer
	r := newShellRunner(t, Options{Stdout: &out, Flags: plan.NewFlags("--verbose")})

	steps := []plan.Step{
		{Command: "echo one"},
		{Expect: "one\n", Command: "echo cleaning", When: "clean"},
		{Expect: "one\n", Command: "echo verbose", When: "verbose"},
		{Expect: "verbose\n"},
	}
	require.NoError(t, r.Run(context.Background(), steps))
	assert.NotContains(t, out.String(), "cleaning")
	assert.Contains(t, out.String(), "verbose")
}

func TestRunnerNestedSession(t *testing.T) {
	var out bytes.Buffer
	r := newShellRunner(t, Options{Stdout: &out})

	steps := []plan.Step{
		{Command: "echo parent"},
		{
			Kind:   plan.Nested,
			Expect: "parent\n",
			Steps: []plan.Step{
				{Command: "echo child"},
				{Expect: "child\n", Command: "echo child-started"},
			},
		},
		{Expect: "parent\n", Command: "echo finished"},
		{Expect: "finished\n"},
	}
	require.NoError(t, r.Run(context.Background(), steps))

	text := out.String()
	assert.Contains(t, text, "child\n")
	assert.Contains(t, text, "finished\n")
	assert.Less(t, strings.Index(text, "child\n"), strings.Index(text, "finished\n"),
		"the parent continues only after the nested session completes")
}

func TestRunnerNestedFailure(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{
		{
			Kind: plan.Nested,
			Steps: []plan.Step{
				{Command: "exit 1"},
				{Expect: "never printed"},
			},
		},
		{Command: "echo unreachable"},
	}
	err := r.Run(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNestedFailed)
	assert.ErrorIs(t, err, ErrProcessExited)
}

func TestRunnerMaxDepth(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{{Command: "true"}}
	for i := 0; i <= MaxDepth; i++ {
		steps = []plan.Step{{Kind: plan.Nested, Steps: steps}}
	}
	err := r.Run(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxDepth)
}

func TestRunnerProcessExit(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{
		{Command: "exit 3"},
		{Expect: "never printed"},
	}
	err := r.Run(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessExited)
}

func TestRunnerStepTimeout(t *testing.T) {
	r := newShellRunner(t, Options{StepTimeout: 200 * time.Millisecond})

	start := time.Now()
	err := r.Run(context.Background(), []plan.Step{{Expect: "never printed"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPromptTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunnerCancel(t *testing.T) {
	r := newShellRunner(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := r.Run(ctx, []plan.Step{{Expect: "never printed"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PhaseFailed, r.Phase())
}

func TestRunnerDrainsAfterCompletion(t *testing.T) {
	var out bytes.Buffer
	r := newShellRunner(t, Options{Stdout: &out})

	steps := []plan.Step{
		{Command: "echo go"},
		{Expect: "go\n", Command: "sleep 0.2; echo tail"},
	}
	require.NoError(t, r.Run(context.Background(), steps))
	assert.Contains(t, out.String(), "tail\n", "output after the last step is still echoed")
}

func TestRunnerKillsNestedServices(t *testing.T) {
	r := newShellRunner(t, Options{})

	steps := []plan.Step{
		{Command: "echo parent"},
		{
			Kind:   plan.Nested,
			Expect: "parent\n",
			Steps: []plan.Step{
				{Command: "echo svc"},
				// A service the nested block leaves running
				{Expect: "svc\n", Command: "sleep 30"},
			},
		},
		{Expect: "parent\n", Command: "echo finished"},
		{Expect: "finished\n"},
	}

	start := time.Now()
	require.NoError(t, r.Run(context.Background(), steps))
	assert.Less(t, time.Since(start), 10*time.Second, "the run must not wait for the nested service")
}

func TestRunnerJudgesFinalCommandOutput(t *testing.T) {
	t.Run("success marker printed by the final command", func(t *testing.T) {
		var out bytes.Buffer
		r := newShellRunner(t, Options{Stdout: &out})

		steps := []plan.Step{
			{Command: "echo ready"},
			{Expect: "ready\n", Command: "echo 'Done in 0.1s'", Success: plan.Condition{"Done in "}},
		}
		require.NoError(t, r.Run(context.Background(), steps))
		assert.Contains(t, out.String(), "Done in 0.1s")
		assert.Equal(t, PhaseCompleted, r.Phase())
	})

	t.Run("success marker only before the final command", func(t *testing.T) {
		r := newShellRunner(t, Options{})

		steps := []plan.Step{
			{Command: "echo 'Done in 0.1s'; echo ready"},
			{Expect: "ready\n", Command: "echo 'build failed'", Success: plan.Condition{"Done in "}},
		}
		err := r.Run(context.Background(), steps)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSuccessCondition)
		assert.Equal(t, PhaseFailed, r.Phase())
	})

	t.Run("error marker printed by the final command", func(t *testing.T) {
		r := newShellRunner(t, Options{})

		steps := []plan.Step{
			{Command: "echo ready"},
			{Expect: "ready\n", Command: "echo 'FATAL: disk full' >&2", Error: plan.Condition{"fatal"}},
		}
		err := r.Run(context.Background(), steps)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrErrorCondition)
	})
}

func TestRunnerDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/marker.txt", []byte("found-it\n"), 0o644))

	var out bytes.Buffer
	r := newShellRunner(t, Options{Dir: dir, Stdout: &out})
	steps := []plan.Step{
		{Command: "cat marker.txt"},
		{Expect: "found-it\n"},
	}
	require.NoError(t, r.Run(context.Background(), steps))
}

func TestNewRunnerNeedsShell(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.Error(t, err)
}

func TestRunnerRunIDs(t *testing.T) {
	a, err := NewRunner(Options{Shell: []string{"sh"}})
	require.NoError(t, err)
	b, err := NewRunner(Options{Shell: []string{"sh"}})
	require.NoError(t, err)

	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Equal(t, PhaseIdle, a.Phase())
}
