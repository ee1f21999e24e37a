// Package session drives an interactive process through a plan: it watches
// the process output for each step's expected text, writes the step's
// command when the text appears and judges the output against the steps'
// success and error markers.
package session

import (
	"fmt"

	"github.com/vojkodrev/build/plan"
)

// Stream identifies one of a process's output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Status is the lifecycle state of a Driver.
type Status int

const (
	Running Status = iota
	// Suspended while a nested block runs.
	Suspended
	// Draining after the final step's command was written. Its output is
	// still judged; Exit decides between Completed and Failed.
	Draining
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ActionKind is the side effect a transition asks for.
type ActionKind int

const (
	None ActionKind = iota
	// Send writes Command to the process. Command may be empty for steps
	// that only wait.
	Send
	// Descend runs Step.Steps as a nested session, then calls Resume.
	Descend
	// Fail ends the run with Err.
	Fail
)

// Action is the result of one transition: at most one side effect.
type Action struct {
	Kind    ActionKind
	Index   int
	Step    plan.Step
	Command string
	Err     error
}

// Driver is the state of one session: a cursor into the step list, the
// output accumulated since the last step fired on each stream, and the
// step whose command was written last. It performs no I/O; the caller feeds
// it output and carries out the returned actions. A Driver is not safe for
// concurrent use.
type Driver struct {
	steps  []plan.Step
	flags  plan.Flags
	cursor int

	out    plan.Buffer
	errOut plan.Buffer

	// prev is the step whose output is being judged, -1 before the first.
	prev   int
	nested int
	status Status
	err    error
}

// NewDriver returns a driver positioned before the first step. Nothing
// fires until Poll or Feed is called.
func NewDriver(steps []plan.Step, flags plan.Flags) *Driver {
	return &Driver{
		steps:  steps,
		flags:  flags,
		prev:   -1,
		nested: -1,
	}
}

// Status returns the current lifecycle state.
func (d *Driver) Status() Status { return d.status }

// Err returns the failure once the driver has Failed.
func (d *Driver) Err() error { return d.err }

// Cursor returns the index of the step currently waiting.
func (d *Driver) Cursor() int { return d.cursor }

// Current returns the step currently waiting, if any.
func (d *Driver) Current() (plan.Step, bool) {
	i := d.nextEligible(d.cursor)
	if i < 0 {
		return plan.Step{}, false
	}
	return d.steps[i], true
}

// Poll evaluates the current step against what is already buffered. It is
// how a step without expected text fires without waiting for new output.
func (d *Driver) Poll() Action {
	if d.status != Running {
		return Action{}
	}
	return d.advance()
}

// Feed consumes one chunk of output from stream.
func (d *Driver) Feed(stream Stream, chunk []byte) Action {
	if d.status == Completed || d.status == Failed {
		return Action{}
	}

	buf := &d.out
	if stream == Stderr {
		buf = &d.errOut
	}
	_, _ = buf.Write(chunk)

	if d.status == Suspended {
		return Action{}
	}
	if a := d.checkError(stream, buf); a.Kind == Fail {
		return a
	}
	if stream == Stderr || d.status == Draining {
		return Action{}
	}
	return d.advance()
}

// Resume ends the suspension started by a Descend action. A non-nil err is
// the nested session's failure and fails this driver too. Otherwise the
// prompt that triggered the nested block is still pending, so the scan
// continues against the same buffered output.
func (d *Driver) Resume(err error) Action {
	if d.status != Suspended {
		return Action{}
	}
	idx := d.nested
	d.nested = -1
	if err != nil {
		return d.fail(&StepError{Index: idx, Step: d.steps[idx], Err: fmt.Errorf("%w: %w", ErrNestedFailed, err)})
	}

	d.status = Running
	if d.nextEligible(d.cursor) < 0 {
		d.status = Completed
		return Action{}
	}
	if a := d.checkError(Stdout, &d.out); a.Kind == Fail {
		return a
	}
	if a := d.checkError(Stderr, &d.errOut); a.Kind == Fail {
		return a
	}
	return d.advance()
}

// Expire fails the step that is waiting for its expected text.
func (d *Driver) Expire() Action {
	if d.status != Running {
		return Action{}
	}
	i := d.nextEligible(d.cursor)
	if i < 0 {
		return Action{}
	}
	return d.fail(&StepError{Index: i, Step: d.steps[i], Err: ErrPromptTimeout})
}

// Exit reports that the process ended. While Draining the final step's
// success condition is judged on everything its command printed, and the
// exit status is ignored since closing the input is what ended the shell.
// Before that, exiting is a failure.
func (d *Driver) Exit(err error) Action {
	if d.status == Completed || d.status == Failed {
		return Action{}
	}
	if d.status == Draining {
		p := d.steps[d.prev]
		if !d.out.Satisfies(p.Success) {
			return d.fail(&StepError{Index: d.prev, Step: p, Stream: Stdout, Err: ErrSuccessCondition})
		}
		d.status = Completed
		return Action{}
	}
	if err != nil {
		return d.Abort(fmt.Errorf("%w: %w", ErrProcessExited, err))
	}
	return d.Abort(ErrProcessExited)
}

// Abort fails the driver with err, attributing it to the waiting step.
func (d *Driver) Abort(err error) Action {
	if d.status == Completed || d.status == Failed {
		return Action{}
	}
	i := d.nextEligible(d.cursor)
	if i < 0 {
		i = d.prev
	}
	if i < 0 {
		return d.fail(err)
	}
	return d.fail(&StepError{Index: i, Step: d.steps[i], Err: err})
}

func (d *Driver) advance() Action {
	i := d.nextEligible(d.cursor)
	if i < 0 {
		d.status = Completed
		return Action{}
	}
	d.cursor = i
	cur := d.steps[i]

	if !d.out.EndsWith(cur.Expect) {
		return Action{}
	}
	if d.prev >= 0 && !d.out.Satisfies(d.steps[d.prev].Success) {
		return d.fail(&StepError{Index: d.prev, Step: d.steps[d.prev], Stream: Stdout, Err: ErrSuccessCondition})
	}
	// A final step without a command has no output of its own, so its
	// success condition is judged on the buffer that made it fire.
	last := d.nextEligible(i+1) < 0
	if last && !cur.IsNested() && cur.Command == "" && !d.out.Satisfies(cur.Success) {
		return d.fail(&StepError{Index: i, Step: cur, Stream: Stdout, Err: ErrSuccessCondition})
	}

	d.cursor = i + 1
	if cur.IsNested() {
		d.status = Suspended
		d.nested = i
		return Action{Kind: Descend, Index: i, Step: cur}
	}

	d.out.Reset()
	d.errOut.Reset()
	d.prev = i
	if last {
		d.status = Completed
		if cur.Command != "" && (!cur.Success.IsZero() || !cur.Error.IsZero()) {
			d.status = Draining
		}
	}
	return Action{Kind: Send, Index: i, Step: cur, Command: cur.Command}
}

func (d *Driver) checkError(stream Stream, buf *plan.Buffer) Action {
	if d.prev < 0 {
		return Action{}
	}
	p := d.steps[d.prev]
	if marker, ok := buf.Hit(p.Error); ok {
		return d.fail(&StepError{Index: d.prev, Step: p, Stream: stream, Marker: marker, Err: ErrErrorCondition})
	}
	return Action{}
}

func (d *Driver) nextEligible(from int) int {
	for i := from; i < len(d.steps); i++ {
		if d.flags.Active(d.steps[i]) {
			return i
		}
	}
	return -1
}

func (d *Driver) fail(err error) Action {
	d.status = Failed
	d.err = err
	return Action{Kind: Fail, Err: err}
}
