package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestStructuredLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).WithComponent("flow").WithRun("r1")

	l.Info("flow.turn.start", "turn", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "flow.turn.start", lines[0]["msg"])
	assert.Equal(t, "flow", lines[0]["component"])
	assert.Equal(t, "r1", lines[0]["run_id"])
	assert.EqualValues(t, 2, lines[0]["turn"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	l.LogToolCall("ok_tool", time.Millisecond, true, nil)
	l.Warn("shown")
	l.LogToolCall("bad_tool", time.Millisecond, false, errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "tool.call.failed", lines[1]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func TestLogTracer_Spans(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf}))

	ctx, outer := tr.StartSpan(context.Background(), "run")
	_, inner := tr.StartSpan(ctx, "turn", "turn", 1)
	inner.End(errors.New("stream failed"))
	inner.End(nil) // second End is ignored
	outer.End(nil)
	tr.RecordLLMCall("m", 12, time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	assert.Equal(t, "span.start", lines[0]["msg"])
	assert.EqualValues(t, 1, lines[1]["parent_id"])
	assert.Equal(t, "span.end", lines[2]["msg"])
	assert.Equal(t, "stream failed", lines[2]["error"])
	assert.Equal(t, "span.end", lines[3]["msg"])
	assert.Equal(t, "llm.call.completed", lines[4]["msg"])
}

func TestNoOpTracer(t *testing.T) {
	var tr Tracer = NoOpTracer{}
	ctx := context.Background()
	got, span := tr.StartSpan(ctx, "x")
	assert.Equal(t, ctx, got)
	span.End(nil)
}
