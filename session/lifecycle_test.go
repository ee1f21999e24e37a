package session

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   Phase
	}{
		{name: "initial", events: nil, want: PhaseIdle},
		{name: "started", events: []string{EventStart}, want: PhaseDriving},
		{name: "nested", events: []string{EventStart, EventDescend}, want: PhaseNested},
		{name: "resumed", events: []string{EventStart, EventDescend, EventResume}, want: PhaseDriving},
		{name: "completed", events: []string{EventStart, EventDrain, EventComplete}, want: PhaseCompleted},
		{name: "failed while nested", events: []string{EventStart, EventDescend, EventFail}, want: PhaseFailed},
		{name: "complete needs drain", events: []string{EventStart, EventComplete}, want: PhaseDriving},
		{name: "reset", events: []string{EventStart, EventFail, EventReset}, want: PhaseIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newLifecycle("run-1", slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			defer l.stop()

			for _, e := range tt.events {
				l.send(e)
			}
			assert.Equal(t, tt.want, l.phase())
		})
	}
}

func TestLifecycleLogsPhases(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l, err := newLifecycle("run-42", logger)
	require.NoError(t, err)
	l.send(EventStart)
	l.send(EventDrain)
	l.stop()

	assert.Contains(t, buf.String(), "phase=driving")
	assert.Contains(t, buf.String(), "phase=draining")
	assert.Contains(t, buf.String(), "run=run-42")
}
