//go:build windows

package session

import (
	"context"
	"fmt"
	"io"

	gopty "github.com/aymanbagabas/go-pty"
)

// ptyProcess runs the child on a ConPTY pseudo console.
// The console is closed as soon as the child exits, since reads on it do
// not end by themselves.
type ptyProcess struct {
	pty     gopty.Pty
	cmd     *gopty.Cmd
	exited  chan struct{}
	waitErr error
}

// SpawnPTY starts argv attached to a new pseudo console.
func SpawnPTY(_ context.Context, argv []string, dir string, env []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command to start")
	}

	p, err := gopty.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open pseudo console: %w", err)
	}

	cmd := p.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to start %s with pty: %w", argv[0], err)
	}
	proc := &ptyProcess{pty: p, cmd: cmd, exited: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.exited)
		_ = p.Close()
	}()
	return proc, nil
}

func (p *ptyProcess) Write(b []byte) (int, error) { return p.pty.Write(b) }
func (p *ptyProcess) Stdout() io.Reader           { return p.pty }
func (p *ptyProcess) Stderr() io.Reader           { return nil }

// CloseInput sends Ctrl-Z and Enter, the console end-of-file.
func (p *ptyProcess) CloseInput() error {
	_, err := p.pty.Write([]byte("\x1a\r"))
	return err
}

func (p *ptyProcess) Wait() error {
	<-p.exited
	return p.waitErr
}

func (p *ptyProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killProcessTree(p.cmd.Process)
}

// LineEnding is carriage return: the console submits a line on Enter.
func (p *ptyProcess) LineEnding() string { return "\r" }
