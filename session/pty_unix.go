//go:build !windows

package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// ptyProcess runs the child on a pseudo-terminal, so shells behave as they
// do for a user: prompts are printed and stdout and stderr arrive merged.
type ptyProcess struct {
	cmd *exec.Cmd
	tty *os.File
}

// SpawnPTY starts argv attached to a new pseudo-terminal.
func SpawnPTY(_ context.Context, argv []string, dir string, env []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command to start")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s with pty: %w", argv[0], err)
	}
	return &ptyProcess{cmd: cmd, tty: tty}, nil
}

func (p *ptyProcess) Write(b []byte) (int, error) { return p.tty.Write(b) }
func (p *ptyProcess) Stdout() io.Reader           { return p.tty }
func (p *ptyProcess) Stderr() io.Reader           { return nil }

// CloseInput sends end-of-file (Ctrl-D); closing the pty itself would hang
// up the child.
func (p *ptyProcess) CloseInput() error {
	_, err := p.tty.Write([]byte{4})
	return err
}

func (p *ptyProcess) Wait() error {
	err := p.cmd.Wait()
	_ = p.tty.Close()
	return err
}

func (p *ptyProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// pty.Start makes the child a session leader, so its group id is its pid
	err := killProcessTree(p.cmd.Process)
	_ = p.tty.Close()
	return err
}
