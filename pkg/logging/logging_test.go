package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestIntoContext_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info")
	ctx := IntoContext(context.Background(), l)

	FromContext(ctx).Info("refresh_ok", "attempt", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "refresh_ok", entry["msg"])
	assert.EqualValues(t, 1, entry["attempt"])
}

func TestNewWithWriter_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{level: "debug", enabled: slog.LevelDebug, muted: slog.LevelDebug - 1},
		{level: "warn", enabled: slog.LevelWarn, muted: slog.LevelInfo},
		{level: "ERROR", enabled: slog.LevelError, muted: slog.LevelWarn},
		{level: "", enabled: slog.LevelInfo, muted: slog.LevelDebug},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()

			l := NewWithWriter(&bytes.Buffer{}, tt.level)
			assert.True(t, l.Enabled(context.Background(), tt.enabled))
			assert.False(t, l.Enabled(context.Background(), tt.muted))
		})
	}
}
