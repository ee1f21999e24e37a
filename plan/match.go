package plan

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Condition is a set of accepted markers. A plan file may spell a
// condition as a single string or as a list; both load into a Condition.
// A nil Condition is absent.
type Condition []string

// NewCondition normalizes a decoded plan value (nil, a string or a list of
// strings) into a Condition.
func NewCondition(v any) (Condition, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return Condition{v}, nil
	case []string:
		return newConditionList(v)
	case []any:
		markers := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("marker %d: expected string, got %T", i, item)
			}
			markers = append(markers, s)
		}
		return newConditionList(markers)
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

func newConditionList(markers []string) (Condition, error) {
	if len(markers) == 0 {
		return nil, nil
	}
	for i, m := range markers {
		if m == "" {
			return nil, fmt.Errorf("marker %d: %w", i, ErrEmptyMarker)
		}
	}
	return Condition(append([]string(nil), markers...)), nil
}

// IsZero reports whether the condition is absent.
func (c Condition) IsZero() bool {
	return len(c) == 0
}

// Hit returns the first marker contained in buffer. An absent condition
// never hits.
func (c Condition) Hit(buffer string) (string, bool) {
	return c.hitFolded(Fold(buffer))
}

func (c Condition) hitFolded(folded string) (string, bool) {
	for _, m := range c {
		if strings.Contains(folded, Fold(m)) {
			return m, true
		}
	}
	return "", false
}

// Fold returns the case-folded form of s used for every comparison.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Matches reports whether buffer ends with expected, ignoring case. An empty
// expected text needs no wait and always matches.
func Matches(buffer, expected string) bool {
	if expected == "" {
		return true
	}
	return strings.HasSuffix(Fold(buffer), Fold(expected))
}

// ContainsAny reports whether buffer contains at least one marker of c,
// ignoring case. An absent condition is satisfied.
func ContainsAny(buffer string, c Condition) bool {
	if c.IsZero() {
		return true
	}
	_, ok := c.Hit(buffer)
	return ok
}

// ErrEmptyMarker is returned when a condition list holds an empty string.
var ErrEmptyMarker = errors.New("empty marker")
