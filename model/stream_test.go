package model

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource replays string events; "block" waits for ctx cancellation.
type sliceSource struct {
	ctx    context.Context
	events []string
	pos    int
	cur    string
	err    error
	closed bool
}

func (s *sliceSource) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	ev := s.events[s.pos]
	s.pos++
	if ev == "block" {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
		return false
	}
	if ev == "fail" {
		s.err = errors.New("connection reset")
		return false
	}
	s.cur = ev
	return true
}

func (s *sliceSource) Current() string { return s.cur }
func (s *sliceSource) Err() error      { return s.err }
func (s *sliceSource) Close() error    { s.closed = true; return nil }

// translate understands "text:<key>:<frag>", "call:<key>:<name>", "args:<key>:<frag>",
// "end:<key>", "think:<key>:<frag>", "in:<n>", "out:<n>", "stop" and "bad".
var translate = TranslatorFunc[string](func(ev string, emit *Emitter) error {
	f := strings.SplitN(ev, ":", 3)
	switch f[0] {
	case "text":
		emit.Text(f[1], f[2])
	case "think":
		emit.Thinking(f[1], f[2], "")
	case "call":
		emit.StartToolCall(f[1], "", f[2])
	case "args":
		emit.ToolCallArgs(f[1], f[2])
	case "end":
		emit.EndPart(f[1])
	case "in":
		emit.InputTokens(len(f[1]))
	case "out":
		emit.OutputTokens(len(f[1]))
	case "stop":
		emit.Finish()
	case "bad":
		return errors.New("unexpected payload")
	}
	return nil
})

func newTestStream(ctx context.Context, timeout time.Duration, src *sliceSource) ChunkStream {
	return NewStream(ctx, timeout, func(ctx context.Context) (EventSource[string], error) {
		src.ctx = ctx
		return src, nil
	}, translate)
}

func types(chunks []core.Chunk) []core.ChunkType {
	out := make([]core.ChunkType, len(chunks))
	for i, c := range chunks {
		out[i] = c.Type
	}
	return out
}

func TestStream_IndicesAndSynthesizedEnds(t *testing.T) {
	src := &sliceSource{events: []string{
		"think:t:hmm",
		"text:a:Hel",
		"call:c0:getWeather",
		"args:c0:{\"city\":",
		"text:a:lo",
		"args:c0:\"Paris\"}",
		"in:xxx",
		"out:xx",
	}}
	chunks, err := Collect(newTestStream(context.Background(), 0, src))
	require.NoError(t, err)

	assert.Equal(t, []core.ChunkType{
		core.ChunkThinkingDelta,
		core.ChunkTextDelta,
		core.ChunkToolCallStart,
		core.ChunkToolCallDelta,
		core.ChunkTextDelta,
		core.ChunkToolCallDelta,
		core.ChunkTextEnd,
		core.ChunkToolCallEnd,
		core.ChunkUsage,
		core.ChunkDone,
	}, types(chunks))

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, 2, chunks[2].Index)
	assert.NotEmpty(t, chunks[2].ToolCallID, "missing vendor id is generated")
	assert.Equal(t, "getWeather", chunks[2].ToolName)
	assert.Equal(t, 1, chunks[4].Index)
	assert.Equal(t, 1, chunks[6].Index)
	assert.Equal(t, 2, chunks[7].Index)
	assert.Equal(t, chunks[2].ToolCallID, chunks[7].ToolCallID, "end carries the start id")
	assert.Equal(t, core.Usage{InputTokens: 3, OutputTokens: 2}, *chunks[8].Usage)
	assert.True(t, src.closed)
}

func TestStream_ExplicitEndsAreNotDuplicated(t *testing.T) {
	src := &sliceSource{events: []string{"text:a:hi", "end:a", "end:a", "stop", "text:a:ignored"}}
	chunks, err := Collect(newTestStream(context.Background(), 0, src))
	require.NoError(t, err)
	assert.Equal(t, []core.ChunkType{core.ChunkTextDelta, core.ChunkTextEnd, core.ChunkDone}, types(chunks))
}

func TestStream_ReopenedKeyGetsNewIndex(t *testing.T) {
	src := &sliceSource{events: []string{"text:a:one", "end:a", "text:a:two"}}
	chunks, err := Collect(newTestStream(context.Background(), 0, src))
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[2].Index)
}

func TestStream_TransportFailureYieldsSingleErrorChunk(t *testing.T) {
	src := &sliceSource{events: []string{"text:a:partial", "fail", "text:a:never"}}
	s := newTestStream(context.Background(), 0, src)
	chunks, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, core.ChunkError, chunks[1].Type)
	assert.Equal(t, core.ErrStreaming, chunks[1].Err.Kind)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_DecodeFailure(t *testing.T) {
	src := &sliceSource{events: []string{"bad"}}
	chunks, err := Collect(newTestStream(context.Background(), 0, src))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ErrStreaming, chunks[0].Err.Kind)
	assert.Contains(t, chunks[0].Err.Message, "unexpected payload")
}

func TestStream_OpenFailure(t *testing.T) {
	s := NewStream(context.Background(), 0, func(context.Context) (EventSource[string], error) {
		return nil, errors.New("dial tcp: refused")
	}, translate)
	chunks, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkError, chunks[0].Type)
	assert.Contains(t, chunks[0].Err.Error(), "refused")
}

func TestStream_TimeoutSurfacesAsStreamingError(t *testing.T) {
	src := &sliceSource{events: []string{"text:a:hi", "block"}}
	chunks, err := Collect(newTestStream(context.Background(), 20*time.Millisecond, src))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, core.ChunkError, chunks[1].Type)
	assert.Equal(t, core.ErrStreaming, chunks[1].Err.Kind)
	assert.Contains(t, chunks[1].Err.Message, "timed out")
}

func TestStream_CancellationEmitsNoErrorChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceSource{events: []string{"text:a:hi", "block"}}
	s := newTestStream(ctx, time.Minute, src)

	c, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, core.ChunkTextDelta, c.Type)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, src.closed)
}

func TestStream_CancelledBeforeFirstPull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opened := false
	s := NewStream(ctx, 0, func(context.Context) (EventSource[string], error) {
		opened = true
		return &sliceSource{}, nil
	}, translate)
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, opened)
}

func TestScriptedModel_ReplaysAndRecords(t *testing.T) {
	m := NewScriptedModel(TextScript("a", "b"))
	chunks, err := Collect(m.Stream(context.Background(), Request{Messages: []core.Message{core.NewUserMessage("hi")}}))
	require.NoError(t, err)
	assert.Len(t, chunks, 4)

	chunks, err = Collect(m.Stream(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkError, chunks[0].Type)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "hi", reqs[0].Messages[0].Text())
}

func TestScriptedModel_HonorsCancellation(t *testing.T) {
	m := NewScriptedModel(TextScript("a", "b"))
	m.Delay = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	s := m.Stream(ctx, Request{})
	cancel()
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}
