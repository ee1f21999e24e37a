package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vojkodrev/build/plan"
)

// MaxDepth bounds how deeply nested blocks may nest.
const MaxDepth = 8

// killGrace bounds the wait for a killed process's output to close.
const killGrace = 2 * time.Second

// Options configures a Runner.
type Options struct {
	// Shell is the argv of the process each session starts. Nested blocks
	// may override it.
	Shell []string
	Dir   string
	Env   []string

	Flags plan.Flags

	// StepTimeout bounds how long a step waits for its expected text.
	// Zero waits forever.
	StepTimeout time.Duration

	// Stdout and Stderr receive a copy of every child's output.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger

	// Spawn starts processes. Defaults to SpawnPipes.
	Spawn Spawner
}

// Runner runs a plan against freshly started processes. Nested blocks run
// to completion on their own process before the parent continues.
type Runner struct {
	opts   Options
	runID  string
	logger *slog.Logger
	life   *lifecycle

	stdout io.Writer
	stderr io.Writer

	mu       sync.Mutex
	detached []*child
}

// NewRunner builds a runner. Unset output writers discard the echo.
func NewRunner(opts Options) (*Runner, error) {
	if len(opts.Shell) == 0 {
		return nil, errors.New("no shell configured")
	}
	if opts.Spawn == nil {
		opts.Spawn = SpawnPipes
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)
	life, err := newLifecycle(runID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build run lifecycle: %w", err)
	}

	return &Runner{
		opts:   opts,
		runID:  runID,
		logger: logger,
		life:   life,
		stdout: &lockedWriter{w: opts.Stdout},
		stderr: &lockedWriter{w: opts.Stderr},
	}, nil
}

// RunID identifies this runner in logs.
func (r *Runner) RunID() string { return r.runID }

// Phase reports where the run is in its lifecycle.
func (r *Runner) Phase() Phase { return r.life.phase() }

// Run filters steps by the configured flags and drives them to completion.
// Any failure ends the whole run; processes still running are killed.
func (r *Runner) Run(ctx context.Context, steps []plan.Step) error {
	effective := plan.Filter(steps, r.opts.Flags)
	r.logger.Info("starting run", "steps", len(effective), "shell", r.opts.Shell)

	r.life.send(EventStart)
	err := r.session(ctx, effective, r.opts.Shell, 0)
	r.killDetached()

	if err != nil {
		r.life.send(EventFail)
		r.logger.Error("run failed", "error", err)
	} else {
		r.life.send(EventComplete)
		r.logger.Info("run completed")
	}
	r.life.stop()
	return err
}

type chunk struct {
	stream Stream
	data   []byte
}

// child is one started process with its output pumps.
type child struct {
	proc   Process
	events chan chunk
	done   chan struct{}
}

func (r *Runner) start(ctx context.Context, argv []string) (*child, error) {
	proc, err := r.opts.Spawn(ctx, argv, r.opts.Dir, r.opts.Env)
	if err != nil {
		return nil, err
	}

	c := &child{proc: proc, events: make(chan chunk, 64), done: make(chan struct{})}
	var pumps sync.WaitGroup
	pumps.Add(1)
	go pump(proc.Stdout(), Stdout, r.stdout, c.events, &pumps)
	if e := proc.Stderr(); e != nil {
		pumps.Add(1)
		go pump(e, Stderr, r.stderr, c.events, &pumps)
	}
	go func() {
		pumps.Wait()
		close(c.events)
	}()
	return c, nil
}

// pump echoes a stream and forwards it chunk by chunk until it ends.
func pump(src io.Reader, stream Stream, echo io.Writer, events chan<- chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			_, _ = echo.Write(data)
			events <- chunk{stream: stream, data: data}
		}
		if err != nil {
			return
		}
	}
}

// session runs steps against a new process started from argv.
func (r *Runner) session(ctx context.Context, steps []plan.Step, argv []string, depth int) error {
	logger := r.logger.With("depth", depth)

	c, err := r.start(ctx, argv)
	if err != nil {
		return err
	}
	logger.Debug("process started", "argv", argv)

	d := NewDriver(steps, r.opts.Flags)
	timer := newStepTimer(r.opts.StepTimeout)
	defer timer.stop()

	events := c.events
	inputClosed := false
	act := d.Poll()
	for {
		if err := r.apply(ctx, d, c, act, argv, depth, logger); err != nil {
			r.abandon(c)
			return err
		}
		if d.Status() == Completed {
			break
		}
		if d.Status() == Draining && !inputClosed {
			// The final command's output is judged until the child exits
			inputClosed = true
			if depth == 0 {
				r.life.send(EventDrain)
			}
			if err := c.proc.CloseInput(); err != nil {
				logger.Debug("failed to close input", "error", err)
			}
		}
		timer.watch(d.Cursor())

		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				act = d.Exit(c.proc.Wait())
				continue
			}
			act = d.Feed(ev.stream, ev.data)
		case <-timer.C():
			if s, ok := d.Current(); ok {
				logger.Warn("step timed out", "step", d.Cursor()+1, "name", s.Label(), "expect", s.Expect)
			}
			act = d.Expire()
		case <-ctx.Done():
			r.abandon(c)
			return ctx.Err()
		}
	}

	logger.Info("session completed")
	if events == nil {
		// Already exited while draining
		return nil
	}
	if depth > 0 {
		r.detach(c)
		return nil
	}
	return r.drain(ctx, c, events)
}

// apply carries out act and every action that follows from it without new
// output.
func (r *Runner) apply(ctx context.Context, d *Driver, c *child, act Action, argv []string, depth int, logger *slog.Logger) error {
	for act.Kind != None {
		switch act.Kind {
		case Send:
			logger.Info("step fired", "step", act.Index+1, "name", act.Step.Label())
			if act.Command != "" {
				if _, err := io.WriteString(c.proc, act.Command+lineEnding(c.proc)); err != nil {
					act = d.Abort(fmt.Errorf("failed to write command: %w", err))
					continue
				}
			}
			act = d.Poll()

		case Descend:
			logger.Info("entering nested session", "step", act.Index+1, "name", act.Step.Label())
			if depth == 0 {
				r.life.send(EventDescend)
			}
			err := r.nested(ctx, act.Step, argv, depth+1)
			if depth == 0 && err == nil {
				r.life.send(EventResume)
			}
			act = d.Resume(err)

		case Fail:
			return act.Err

		default:
			return fmt.Errorf("unknown action %d", act.Kind)
		}
	}
	return nil
}

// nested runs a nested block on its own process and returns once that
// session has completed or failed.
func (r *Runner) nested(ctx context.Context, step plan.Step, parent []string, depth int) error {
	if depth > MaxDepth {
		return ErrMaxDepth
	}
	argv := step.Shell
	if len(argv) == 0 {
		argv = parent
	}
	return r.session(ctx, step.Steps, argv, depth)
}

// drain closes the child's input once the plan is done and waits for it to
// exit. Output is still echoed but no longer judged.
func (r *Runner) drain(ctx context.Context, c *child, events <-chan chunk) error {
	r.life.send(EventDrain)
	if err := c.proc.CloseInput(); err != nil {
		r.logger.Debug("failed to close input", "error", err)
	}
	for events != nil {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-ctx.Done():
			r.abandon(c)
			return ctx.Err()
		}
	}
	if err := c.proc.Wait(); err != nil {
		r.logger.Debug("process exited", "error", err)
	}
	return nil
}

// detach keeps a completed nested session's process running until the
// whole run ends.
func (r *Runner) detach(c *child) {
	go func() {
		for range c.events {
		}
		_ = c.proc.Wait()
		close(c.done)
	}()
	r.mu.Lock()
	r.detached = append(r.detached, c)
	r.mu.Unlock()
}

func (r *Runner) killDetached() {
	r.mu.Lock()
	detached := r.detached
	r.detached = nil
	r.mu.Unlock()

	for _, c := range detached {
		if err := c.proc.Kill(); err != nil {
			r.logger.Debug("failed to kill nested process", "error", err)
		}
		select {
		case <-c.done:
		case <-time.After(killGrace):
			r.logger.Warn("nested process output still open after kill, leaving it behind")
		}
	}
}

// abandon kills a child after a failure and releases its pumps.
func (r *Runner) abandon(c *child) {
	_ = c.proc.Kill()
	go func() {
		for range c.events {
		}
		_ = c.proc.Wait()
	}()
}

// lockedWriter serializes echo writes from concurrent pumps.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// stepTimer fires when the same step has waited longer than the timeout.
type stepTimer struct {
	timeout time.Duration
	timer   *time.Timer
	cursor  int
}

func newStepTimer(timeout time.Duration) *stepTimer {
	return &stepTimer{timeout: timeout, cursor: -1}
}

// watch restarts the timer whenever the cursor has moved.
func (t *stepTimer) watch(cursor int) {
	if t.timeout <= 0 || cursor == t.cursor {
		return
	}
	t.cursor = cursor
	if t.timer == nil {
		t.timer = time.NewTimer(t.timeout)
		return
	}
	t.timer.Reset(t.timeout)
}

// C is nil, and so never ready, when no timeout is set.
func (t *stepTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *stepTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
