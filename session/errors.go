package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vojkodrev/build/plan"
)

var (
	// ErrErrorCondition means an error marker appeared in a step's output.
	ErrErrorCondition = errors.New("error marker found")
	// ErrSuccessCondition means no success marker appeared before the next prompt.
	ErrSuccessCondition = errors.New("success condition not met")
	// ErrNestedFailed means a nested session ended in failure.
	ErrNestedFailed = errors.New("nested session failed")
	// ErrPromptTimeout means the expected text did not arrive in time.
	ErrPromptTimeout = errors.New("timed out waiting for expected text")
	// ErrProcessExited means the process ended before the plan completed.
	ErrProcessExited = errors.New("process exited before the plan completed")
	// ErrMaxDepth means nested blocks were nested too deeply.
	ErrMaxDepth = errors.New("nested sessions too deep")
)

// StepError describes which step a failure is attributed to.
type StepError struct {
	Index  int
	Step   plan.Step
	Stream Stream
	Marker string
	Err    error
}

func (e *StepError) Error() string {
	prefix := fmt.Sprintf("step %d (%s)", e.Index+1, e.Step.Label())
	switch {
	case errors.Is(e.Err, ErrErrorCondition):
		return fmt.Sprintf("%s: error marker %q found on %s", prefix, e.Marker, e.Stream)
	case errors.Is(e.Err, ErrSuccessCondition):
		return fmt.Sprintf("%s: success condition not met, expected one of %s", prefix, quoteAll(e.Step.Success))
	case errors.Is(e.Err, ErrPromptTimeout):
		return fmt.Sprintf("%s: timed out waiting for %q", prefix, e.Step.Expect)
	default:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func quoteAll(markers []string) string {
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = fmt.Sprintf("%q", m)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
