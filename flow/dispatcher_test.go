package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

type mockTool struct {
	mock.Mock
	name   string
	schema tool.Schema
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock tool" }
func (m *mockTool) Schema() tool.Schema { return m.schema }
func (m *mockTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	ret := m.Called(tc, args)
	return ret.Get(0), ret.Error(1)
}

// teTool is a configurable fake used for concurrency tests.
type teTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
	calls    atomic.Int32
	running  atomic.Int32
	peak     atomic.Int32
	sawCtx   chan error
}

func (tt *teTool) Name() string        { return tt.name }
func (tt *teTool) Description() string { return "test tool" }
func (tt *teTool) Schema() tool.Schema { return tool.MapSchema{"type": "object"} }
func (tt *teTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	tt.calls.Add(1)
	n := tt.running.Add(1)
	defer tt.running.Add(-1)
	for {
		p := tt.peak.Load()
		if n <= p || tt.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if tt.delay > 0 {
		select {
		case <-time.After(tt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}
	if tt.sawCtx != nil {
		tt.sawCtx <- tc.Context().Err()
	}
	if tt.panicMsg != nil {
		panic(tt.panicMsg)
	}
	return tt.result, tt.err
}

func newTestDispatcher(t *testing.T, optFns []func(o *DispatcherOptions), tools ...tool.Tool) *Dispatcher {
	t.Helper()
	reg, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	return NewDispatcher(reg, optFns...)
}

func invoke(name, args string) Invocation {
	return Invocation{RunID: "run", Call: core.ToolCall{ID: "call-" + name, Name: name, Arguments: args}}
}

func TestDispatcher_ToolNotFound(t *testing.T) {
	d := newTestDispatcher(t, nil)

	res := d.Dispatch(context.Background(), invoke("missing", "{}"))
	assert.True(t, res.IsError)
	assert.Equal(t, core.ErrToolNotFound, res.Kind)
	assert.Equal(t, "call-missing", res.ID)
	assert.Contains(t, res.Text(), "TOOL_NOT_FOUND")
}

func TestDispatcher_InvalidArgumentsSkipsExecutor(t *testing.T) {
	schema := tool.MapSchema{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}

	tests := []struct {
		name string
		args string
		want string
	}{
		{"malformed", `{"name": "X"`, "malformed arguments"},
		{"not an object", `["X"]`, "must be a JSON object"},
		{"schema violation", `{"name": 42}`, "expected type string"},
		{"missing required", `{}`, "required field is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &mockTool{name: "setName", schema: schema}
			d := newTestDispatcher(t, nil, mt)

			res := d.Dispatch(context.Background(), invoke("setName", tt.args))
			assert.True(t, res.IsError)
			assert.Equal(t, core.ErrInvalidArguments, res.Kind)
			assert.Contains(t, res.Text(), "INVALID_ARGUMENTS")
			assert.Contains(t, res.Text(), tt.want)
			mt.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
		})
	}
}

func TestDispatcher_PassesParsedArguments(t *testing.T) {
	mt := &mockTool{name: "setName", schema: tool.MapSchema{"type": "object"}}
	mt.On("Call", mock.MatchedBy(func(tc *core.ToolContext) bool {
		return tc.RunID() == "run" && tc.CallID() == "call-setName" && tc.ToolName() == "setName"
	}), map[string]any{"name": "X"}).Return("ok", nil).Once()
	d := newTestDispatcher(t, nil, mt)

	res := d.Dispatch(context.Background(), invoke("setName", `{"name":"X"}`))
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", res.Text())
	mt.AssertExpectations(t)
}

func TestDispatcher_EmptyArgumentsAreEmptyObject(t *testing.T) {
	mt := &mockTool{name: "ping", schema: tool.MapSchema{"type": "object"}}
	mt.On("Call", mock.Anything, map[string]any{}).Return(nil, nil).Once()
	d := newTestDispatcher(t, nil, mt)

	res := d.Dispatch(context.Background(), invoke("ping", "  "))
	assert.False(t, res.IsError)
	assert.Empty(t, res.Parts)
	mt.AssertExpectations(t)
}

func TestDispatcher_ExecutionFailures(t *testing.T) {
	tests := []struct {
		name string
		tool *teTool
		opts []func(o *DispatcherOptions)
		want string
	}{
		{"error", &teTool{name: "t", err: errors.New("boom")}, nil, "boom"},
		{"panic", &teTool{name: "t", panicMsg: "kaput"}, nil, "panic recovered: kaput"},
		{"timeout", &teTool{name: "t", delay: time.Second}, []func(o *DispatcherOptions){func(o *DispatcherOptions) { o.ToolTimeout = 20 * time.Millisecond }}, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, tt.opts, tt.tool)
			res := d.Dispatch(context.Background(), invoke("t", "{}"))
			assert.True(t, res.IsError)
			assert.Equal(t, core.ErrToolExecution, res.Kind)
			assert.Contains(t, res.Text(), "TOOL_EXECUTION_ERROR")
			assert.Contains(t, res.Text(), tt.want)
		})
	}
}

func TestDispatcher_ConfigureFailure(t *testing.T) {
	ct := &configurable{teTool: &teTool{name: "cfg"}, err: errors.New("missing api key")}
	d := newTestDispatcher(t, nil, ct)

	res := d.Dispatch(context.Background(), invoke("cfg", "{}"))
	assert.Equal(t, core.ErrToolExecution, res.Kind)
	assert.Contains(t, res.Text(), "missing api key")
	assert.Zero(t, ct.calls.Load())
}

type configurable struct {
	*teTool
	err error
}

func (c *configurable) Configure(map[string]any) error { return c.err }

func TestDispatcher_NormalizesOutput(t *testing.T) {
	file := core.FilePart{MimeType: "image/png", Data: []byte{1}}
	tests := []struct {
		name   string
		output any
		want   []core.Part
	}{
		{"string", "plain", []core.Part{core.TextPart{Text: "plain"}}},
		{"part", file, []core.Part{file}},
		{"parts", []core.Part{core.TextPart{Text: "a"}, file}, []core.Part{core.TextPart{Text: "a"}, file}},
		{"nil", nil, nil},
		{"structured", map[string]any{"temp": 21}, []core.Part{core.TextPart{Text: `{"temp":21}`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, nil, &teTool{name: "t", result: tt.output})
			res := d.Dispatch(context.Background(), invoke("t", "{}"))
			require.False(t, res.IsError)
			assert.Equal(t, tt.want, res.Parts)
		})
	}
}

func TestDispatcher_ToolContextIgnoresCallerCancellation(t *testing.T) {
	tt := &teTool{name: "t", delay: 30 * time.Millisecond, result: "finished", sawCtx: make(chan error, 1)}
	d := newTestDispatcher(t, nil, tt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Dispatch(ctx, invoke("t", "{}"))
	assert.False(t, res.IsError)
	assert.NoError(t, <-tt.sawCtx)
}

func TestBatch_ParallelAndRecordsResults(t *testing.T) {
	slow := &teTool{name: "slow", delay: 60 * time.Millisecond, result: "s"}
	fast := &teTool{name: "fast", delay: 5 * time.Millisecond, result: "f"}
	d := newTestDispatcher(t, nil, slow, fast)

	recs := []*ToolCallRecord{{ID: "1", Name: "slow"}, {ID: "2", Name: "fast"}}
	b := d.NewBatch(context.Background(), "run", core.NewRunState())

	start := time.Now()
	for _, r := range recs {
		b.Go(r)
	}
	b.Wait()

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "s", recs[0].Result.Text())
	assert.Equal(t, "f", recs[1].Result.Text())
}

func TestBatch_MaxParallel(t *testing.T) {
	tt := &teTool{name: "t", delay: 10 * time.Millisecond}
	d := newTestDispatcher(t, []func(o *DispatcherOptions){func(o *DispatcherOptions) { o.MaxParallel = 2 }}, tt)

	b := d.NewBatch(context.Background(), "run", nil)
	for i := 0; i < 6; i++ {
		b.Go(&ToolCallRecord{ID: string(rune('a' + i)), Name: "t"})
	}
	<-b.Done()

	assert.EqualValues(t, 6, tt.calls.Load())
	assert.LessOrEqual(t, tt.peak.Load(), int32(2))
}

func TestBatch_SkipsQueuedCallsAfterCancel(t *testing.T) {
	tt := &teTool{name: "t", delay: 40 * time.Millisecond}
	d := newTestDispatcher(t, []func(o *DispatcherOptions){func(o *DispatcherOptions) { o.MaxParallel = 1 }}, tt)

	ctx, cancel := context.WithCancel(context.Background())
	b := d.NewBatch(ctx, "run", nil)
	first := &ToolCallRecord{ID: "1", Name: "t"}
	queued := &ToolCallRecord{ID: "2", Name: "t"}
	b.Go(first)
	time.Sleep(10 * time.Millisecond)
	b.Go(queued)
	cancel()
	b.Wait()

	assert.False(t, first.Result.IsError)
	assert.Equal(t, core.ErrCancelled, queued.Result.Kind)
	assert.EqualValues(t, 1, tt.calls.Load())
}
