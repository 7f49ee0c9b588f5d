package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/tool"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// ToolTimeout bounds a single tool execution. Zero means no limit.
	ToolTimeout time.Duration
	// MaxParallel caps concurrent executions within one batch. Zero or less
	// means no explicit limit.
	MaxParallel int
	Logger      logging.Logger
	Tracer      core.Tracer
}

// Dispatcher resolves, validates and executes tool calls against an explicit
// registry. It holds no per-call state and may be shared across runs.
type Dispatcher struct {
	registry *tool.Registry
	opts     DispatcherOptions
}

// NewDispatcher creates a Dispatcher. A nil registry behaves as empty.
func NewDispatcher(registry *tool.Registry, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		Logger: logging.NoOpLogger{},
		Tracer: core.NoOpTracer{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if registry == nil {
		registry, _ = tool.NewRegistry()
	}
	return &Dispatcher{registry: registry, opts: opts}
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *tool.Registry { return d.registry }

// Invocation is one finalized tool call together with its run scope.
type Invocation struct {
	RunID string
	State *core.RunState
	Call  core.ToolCall
}

// Dispatch executes one call and always returns a result. Failures are
// represented as error results carrying a kind prefix in their text:
// TOOL_NOT_FOUND, INVALID_ARGUMENTS (the tool is not invoked) or
// TOOL_EXECUTION_ERROR (returned error, recovered panic or timeout).
//
// The tool context is detached from ctx cancellation; only ToolTimeout
// bounds it, so an abandoned run never force-kills a tool.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) core.ToolResult {
	call := inv.Call
	start := time.Now()

	ctx, span := d.opts.Tracer.StartSpan(ctx, "tool."+call.Name, "call_id", call.ID)
	result := d.dispatch(ctx, inv)
	dur := time.Since(start)

	var spanErr error
	if result.IsError {
		spanErr = core.NewError(result.Kind, "%s", result.Text())
	}
	span.End(spanErr)
	d.opts.Tracer.RecordToolCall(call.Name, dur, spanErr)

	d.opts.Logger.Info(
		"tool.dispatch.executed",
		"tool", call.Name,
		"call_id", call.ID,
		"duration_ms", dur.Milliseconds(),
		"error", result.IsError,
	)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation) core.ToolResult {
	call := inv.Call

	impl, ok, cfgErr := d.registry.Resolve(call.Name)
	if !ok {
		d.opts.Logger.Warn("tool.dispatch.not_found", "tool", call.Name, "call_id", call.ID)
		return failure(call, core.ErrToolNotFound, fmt.Sprintf("tool %q is not registered", call.Name))
	}
	if cfgErr != nil {
		return failure(call, core.ErrToolExecution, cfgErr.Error())
	}

	args, err := parseArguments(call.Arguments)
	if err == nil {
		err = impl.Schema().Validate(args)
	}
	if err != nil {
		d.opts.Logger.Warn("tool.dispatch.invalid_arguments", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		return failure(call, core.ErrInvalidArguments, err.Error())
	}

	toolCtx := context.WithoutCancel(ctx)
	if d.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(toolCtx, d.opts.ToolTimeout)
		defer cancel()
	}
	tc := core.NewToolContext(toolCtx, inv.RunID, call.ID, call.Name, inv.State, d.opts.Logger)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.err = panicError(r)
				d.opts.Logger.Error("tool.dispatch.panic", "tool", call.Name, "call_id", call.ID, "recover", r)
			}
			done <- o
		}()
		o.value, o.err = impl.Call(tc, args)
	}()

	var o outcome
	select {
	case o = <-done:
	case <-toolCtx.Done():
		o.err = toolCtx.Err()
	}
	if errors.Is(o.err, context.DeadlineExceeded) && toolCtx.Err() != nil {
		return failure(call, core.ErrToolExecution, fmt.Sprintf("tool timed out after %s", d.opts.ToolTimeout))
	}
	if o.err != nil {
		return failure(call, core.ErrToolExecution, o.err.Error())
	}

	parts, err := normalize(o.value)
	if err != nil {
		return failure(call, core.ErrToolExecution, err.Error())
	}
	return core.ToolResult{ID: call.ID, Name: call.Name, Parts: parts}
}

// parseArguments decodes the accumulated raw argument text. Empty text is
// an empty object.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object, got %.64s", raw)
	}
	return args, nil
}

// normalize folds a tool return value into result parts.
func normalize(v any) ([]core.Part, error) {
	switch out := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []core.Part{core.TextPart{Text: out}}, nil
	case core.Part:
		return []core.Part{out}, nil
	case []core.Part:
		return out, nil
	case []byte:
		return []core.Part{core.TextPart{Text: string(out)}}, nil
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode tool output: %w", err)
		}
		return []core.Part{core.TextPart{Text: string(raw)}}, nil
	}
}

func failure(call core.ToolCall, kind core.ErrorKind, msg string) core.ToolResult {
	return core.ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		IsError: true,
		Kind:    kind,
		Parts:   []core.Part{core.TextPart{Text: fmt.Sprintf("%s: %s", kind, msg)}},
	}
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

// Batch fans out the tool calls of one assistant turn. Calls start as soon
// as they are added; each record receives its result when the call ends.
type Batch struct {
	d     *Dispatcher
	ctx   context.Context
	runID string
	state *core.RunState
	sem   chan struct{}

	wg      sync.WaitGroup
	mu      sync.Mutex
	records []*ToolCallRecord
}

// NewBatch starts a batch bound to ctx. The concurrency limit applies to
// this batch only.
func (d *Dispatcher) NewBatch(ctx context.Context, runID string, state *core.RunState) *Batch {
	b := &Batch{d: d, ctx: ctx, runID: runID, state: state}
	if d.opts.MaxParallel > 0 {
		b.sem = make(chan struct{}, d.opts.MaxParallel)
	}
	return b
}

// Go dispatches rec in the background and never blocks on the concurrency
// limit. Calls still waiting for a slot when ctx is cancelled are skipped
// and recorded as CANCELLED.
func (b *Batch) Go(rec *ToolCallRecord) {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()

	call := rec.Call()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		var res core.ToolResult
		if b.acquire() {
			defer b.release()
			res = b.d.Dispatch(b.ctx, Invocation{RunID: b.runID, State: b.state, Call: call})
		} else {
			res = failure(call, core.ErrCancelled, "run cancelled before the tool started")
		}

		b.mu.Lock()
		rec.Result = &res
		b.mu.Unlock()
	}()
}

func (b *Batch) acquire() bool {
	if b.sem == nil {
		return b.ctx.Err() == nil
	}
	select {
	case b.sem <- struct{}{}:
		if b.ctx.Err() != nil {
			<-b.sem
			return false
		}
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Batch) release() {
	if b.sem != nil {
		<-b.sem
	}
}

// Len returns the number of dispatched calls.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Wait blocks until every dispatched call has finished.
func (b *Batch) Wait() {
	b.wg.Wait()
}

// Done returns a channel closed once every dispatched call has finished.
func (b *Batch) Done() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(ch)
	}()
	return ch
}
