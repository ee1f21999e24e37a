package plan

import (
	"strings"
	"unicode/utf8"
)

// Buffer accumulates process output in case-folded form so prompts and
// markers can be checked without re-folding the whole text on every chunk.
// The zero value is ready to use. A Buffer is not safe for concurrent use.
type Buffer struct {
	folded  strings.Builder
	pending []byte
}

// Write appends a chunk. A multi-byte character split across chunks is held
// back until the rest of it arrives.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	data := p
	if len(b.pending) > 0 {
		data = append(b.pending, p...)
		b.pending = nil
	}

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(data) {
		b.pending = append([]byte(nil), data[cut:]...)
	}

	b.folded.WriteString(Fold(string(data[:cut])))
	return n, nil
}

// String returns the folded text accumulated so far.
func (b *Buffer) String() string {
	return b.folded.String()
}

// Len returns the length of the folded text in bytes.
func (b *Buffer) Len() int {
	return b.folded.Len()
}

// Reset discards everything, including a held-back partial character.
func (b *Buffer) Reset() {
	b.folded.Reset()
	b.pending = nil
}

// EndsWith is Matches against the buffered text.
func (b *Buffer) EndsWith(expected string) bool {
	if expected == "" {
		return true
	}
	return strings.HasSuffix(b.folded.String(), Fold(expected))
}

// Satisfies is ContainsAny against the buffered text.
func (b *Buffer) Satisfies(c Condition) bool {
	if c.IsZero() {
		return true
	}
	_, ok := c.hitFolded(b.folded.String())
	return ok
}

// Hit is Condition.Hit against the buffered text.
func (b *Buffer) Hit(c Condition) (string, bool) {
	return c.hitFolded(b.folded.String())
}
