package session

import (
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Phase is the lifecycle state of a whole run.
type Phase string

const (
	PhaseIdle      Phase = stateIdle
	PhaseDriving   Phase = stateDriving
	PhaseNested    Phase = stateNested
	PhaseDraining  Phase = stateDraining
	PhaseCompleted Phase = stateCompleted
	PhaseFailed    Phase = stateFailed
)

// Machine state names.
const (
	stateIdle      = "idle"
	stateDriving   = "driving"
	stateNested    = "nested"
	stateDraining  = "draining"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// Events for the run lifecycle machine.
const (
	EventStart    = "START"
	EventDescend  = "DESCEND"
	EventResume   = "RESUME"
	EventDrain    = "DRAIN"
	EventComplete = "COMPLETE"
	EventFail     = "FAIL"
	EventReset    = "RESET"
)

// runContext is the statekit context of the lifecycle machine.
type runContext struct {
	RunID string
}

// lifecycle tracks the phase of the top-level session. Nested sessions
// show up only as the parent entering and leaving PhaseNested.
type lifecycle struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[runContext]
}

func newLifecycle(runID string, logger *slog.Logger) (*lifecycle, error) {
	enter := func(p Phase) func(*runContext, statekit.Event) {
		return func(c *runContext, e statekit.Event) {
			logger.Debug("run phase", "phase", string(p), "event", string(e.Type), "run", c.RunID)
		}
	}

	machine, err := statekit.NewMachine[runContext]("build-run").
		WithInitial(stateIdle).
		WithContext(runContext{RunID: runID}).
		WithAction("enterDriving", enter(PhaseDriving)).
		WithAction("enterNested", enter(PhaseNested)).
		WithAction("enterDraining", enter(PhaseDraining)).
		WithAction("enterCompleted", enter(PhaseCompleted)).
		WithAction("enterFailed", enter(PhaseFailed)).
		State(stateIdle).
		On(EventStart).Target(stateDriving).Done().
		State(stateDriving).
		OnEntry("enterDriving").
		On(EventDescend).Target(stateNested).
		On(EventDrain).Target(stateDraining).
		On(EventFail).Target(stateFailed).Done().
		State(stateNested).
		OnEntry("enterNested").
		On(EventResume).Target(stateDriving).
		On(EventFail).Target(stateFailed).Done().
		State(stateDraining).
		OnEntry("enterDraining").
		On(EventComplete).Target(stateCompleted).
		On(EventFail).Target(stateFailed).Done().
		State(stateCompleted).
		OnEntry("enterCompleted").
		On(EventReset).Target(stateIdle).Done().
		State(stateFailed).
		OnEntry("enterFailed").
		On(EventReset).Target(stateIdle).Done().
		Build()
	if err != nil {
		return nil, err
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &lifecycle{interp: interp}, nil
}

func (l *lifecycle) send(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})
}

func (l *lifecycle) phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Phase(l.interp.State().Value)
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interp.Stop()
}
