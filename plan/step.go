// Package plan describes scripted shell interactions: the steps of a plan,
// the text checks applied to their output and the activation keys that
// select which steps run.
package plan

import (
	"fmt"
	"strings"
)

// Kind distinguishes plain steps from nested blocks.
type Kind int

const (
	// Plain waits for its expected text and then writes its command.
	Plain Kind = iota
	// Nested runs its own step list against a separate process once its
	// expected text is seen in the parent stream.
	Nested
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Nested:
		return "nested"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Step is one wait-then-act unit of a plan. Steps are not modified after a
// plan is loaded.
type Step struct {
	Name string
	Kind Kind

	// Expect is the text the accumulated output must end with before the
	// step fires. Empty fires as soon as the step becomes current.
	Expect string

	// Command is written to the process input, followed by a newline.
	// Empty writes nothing.
	Command string

	// Success and Error are judged against the output that follows this
	// step's command, i.e. while the next step is waiting.
	Success Condition
	Error   Condition

	// When names the activation key that must be selected for the step to
	// run. Empty means always.
	When string

	// Steps and Shell are only used by nested blocks.
	Steps []Step
	Shell []string
}

// IsNested reports whether the step delegates to a nested session.
func (s Step) IsNested() bool {
	return s.Kind == Nested
}

// Label returns a short human-readable identifier for logs.
func (s Step) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.IsNested():
		return fmt.Sprintf("nested block (%d steps)", len(s.Steps))
	case s.Command != "":
		return s.Command
	case s.Expect != "":
		return "wait for " + s.Expect
	default:
		return "(empty)"
	}
}

// Flags is the set of activation keys selected for a run.
type Flags map[string]struct{}

// NewFlags builds a set from the given keys. Leading dashes are ignored so
// that "--clean" and "clean" select the same steps.
func NewFlags(keys ...string) Flags {
	f := make(Flags, len(keys))
	for _, k := range keys {
		if k = NormalizeKey(k); k != "" {
			f[k] = struct{}{}
		}
	}
	return f
}

// NormalizeKey trims surrounding whitespace and leading dashes.
func NormalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "-")
}

// Has reports whether key is selected.
func (f Flags) Has(key string) bool {
	_, ok := f[NormalizeKey(key)]
	return ok
}

// Active reports whether step s runs under this flag set.
func (f Flags) Active(s Step) bool {
	return s.When == "" || f.Has(s.When)
}

// Keys returns the selected keys in no particular order.
func (f Flags) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}
