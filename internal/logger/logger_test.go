package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Debug("hidden")
	log.Info("agent: run started", "question", "count orders", "empty", "")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "agent: run started")
	require.Contains(t, out, "question=")
	require.NotContains(t, out, "empty=")

	buf.Reset()
	NewWithWriter(&buf, true).Debug("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestFormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 5, 16, 9, 48, 1, 234_567_890, time.FixedZone("CST", 8*3600))
	require.Equal(t, "2025-05-16T01:48:01.234Z", formatRFC3339Millis(ts))
}
