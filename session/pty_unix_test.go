//go:build !windows

package session

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vojkodrev/build/plan"
)

func TestRunnerPTY(t *testing.T) {
	var out bytes.Buffer
	r := newShellRunner(t, Options{
		Env:    append(os.Environ(), "PS1=READY> ", "ENV="),
		Spawn:  SpawnPTY,
		Stdout: &out,
	})

	steps := []plan.Step{
		{Expect: "READY> ", Command: "echo $((6*7))"},
		{Expect: "READY> ", Success: plan.Condition{"42"}},
	}
	require.NoError(t, r.Run(context.Background(), steps))
	assert.Contains(t, out.String(), "42")
}

func TestSpawnPTYMergesStreams(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pty test in short mode")
	}

	proc, err := SpawnPTY(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, "", nil)
	require.NoError(t, err)
	assert.Nil(t, proc.Stderr())

	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for {
		n, err := proc.Stdout().Read(chunk)
		buf.Write(chunk[:n])
		if err != nil {
			break
		}
	}
	_ = proc.Wait()
	assert.Contains(t, buf.String(), "out")
	assert.Contains(t, buf.String(), "err")
}
