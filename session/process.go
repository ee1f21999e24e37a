package session

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Process is a running child with a writable input and readable output.
type Process interface {
	io.Writer

	// Stdout is the primary output stream.
	Stdout() io.Reader
	// Stderr is the secondary stream, nil when it is merged into Stdout.
	Stderr() io.Reader

	// CloseInput signals end of input; an interactive shell exits once it
	// has finished the command it is running.
	CloseInput() error
	// Wait blocks until the process exits. Call it after both output
	// streams are drained.
	Wait() error
	Kill() error
}

// Spawner starts a process from argv in dir. A nil env inherits the
// current environment.
type Spawner func(ctx context.Context, argv []string, dir string, env []string) (Process, error)

type pipeProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// SpawnPipes starts argv with separate stdin, stdout and stderr pipes, so
// failures reported only on stderr can be told apart.
func SpawnPipes(_ context.Context, argv []string, dir string, env []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command to start")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = killGrace
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return &pipeProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (p *pipeProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeProcess) Stdout() io.Reader           { return p.stdout }
func (p *pipeProcess) Stderr() io.Reader           { return p.stderr }
func (p *pipeProcess) CloseInput() error           { return p.stdin.Close() }
func (p *pipeProcess) Wait() error                 { return p.cmd.Wait() }

func (p *pipeProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killProcessTree(p.cmd.Process)
}

// lineEnder is implemented by processes that submit a line on something
// other than "\n".
type lineEnder interface {
	LineEnding() string
}

// lineEnding is what follows each command written to p.
func lineEnding(p Process) string {
	if le, ok := p.(lineEnder); ok {
		return le.LineEnding()
	}
	return "\n"
}
