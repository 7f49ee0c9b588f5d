package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/logging"
)

type recordingLogger struct {
	logging.NoOpLogger
	mu   sync.Mutex
	msgs []string
	args [][]any
}

func (l *recordingLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

func TestToolContext_Identity(t *testing.T) {
	ctx := context.WithValue(context.Background(), struct{}{}, "v")
	tc := NewToolContext(ctx, "run-1", "call-1", "weather", nil, nil)

	assert.Equal(t, ctx, tc.Context())
	assert.Equal(t, "run-1", tc.RunID())
	assert.Equal(t, "call-1", tc.CallID())
	assert.Equal(t, "weather", tc.ToolName())
	assert.NotNil(t, tc.Logger())
	assert.Empty(t, tc.StateSnapshot())
}

func TestToolContext_SetStateLogs(t *testing.T) {
	logger := &recordingLogger{}
	tc := NewToolContext(context.Background(), "run", "call", "counter", NewRunState(), logger)

	tc.SetState("count", 2)
	assert.Equal(t, []string{"tool.state.set"}, logger.msgs)
	assert.Equal(t, []any{"run_id", "run", "tool", "counter", "call_id", "call", "key", "count"}, logger.args[0])

	snap := tc.StateSnapshot()
	snap["count"] = 99
	v, ok := tc.GetState("count")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestToolContext_LoggerTagsRecords(t *testing.T) {
	logger := &recordingLogger{}
	tc := NewToolContext(context.Background(), "r1", "c1", "search", nil, logger)

	tc.Logger().Debug("search.query", "q", "go")
	tc.Logger().Info("ignored by recorder")

	require.Len(t, logger.args, 1)
	assert.Equal(t, []any{"run_id", "r1", "tool", "search", "call_id", "c1", "q", "go"}, logger.args[0])
}

func TestRunState_Concurrent(t *testing.T) {
	state := NewRunState()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc := NewToolContext(context.Background(), "run", "call", "t", state, nil)
			tc.SetState("last", i)
			_, _ = tc.GetState("last")
		}()
	}
	wg.Wait()

	_, ok := state.Get("last")
	assert.True(t, ok)
	assert.Len(t, state.Snapshot(), 1)
}
