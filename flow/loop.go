package flow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool"
)

// State is a turn-loop state.
type State string

const (
	StateIdle         State = "idle"
	StateRequesting   State = "requesting"
	StateStreaming    State = "streaming"
	StateToolDispatch State = "tool-dispatch"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateErrored      State = "errored"
)

func (s State) terminal() bool { return s == StateDone || s == StateErrored }

// PartialResultPolicy decides what happens to tool results of a turn that
// ends in an error.
type PartialResultPolicy int

const (
	// DiscardPartialResults awaits already dispatched calls and drops the
	// failed turn from the reported history.
	DiscardPartialResults PartialResultPolicy = iota
	// PersistPartialResults appends the partial assistant message and the
	// awaited tool results to the reported history.
	PersistPartialResults
)

// DefaultMaxTurns is the turn ceiling used when Options.MaxTurns is zero.
const DefaultMaxTurns = 10

// Options configures a Loop.
type Options struct {
	SystemPrompt string
	// MaxTurns is the ceiling on model requests per run.
	MaxTurns int
	// RequestTimeout bounds every model request.
	RequestTimeout  time.Duration
	GenerateOptions model.GenerateOptions
	// OutputSchema, when set, requires the final text to be JSON matching it.
	OutputSchema  tool.Schema
	Memory        core.MemoryProvider
	Tracer        core.Tracer
	Logger        logging.Logger
	PartialPolicy PartialResultPolicy
	// OnResolve runs once with the outcome before the progress handle's
	// Done channel is closed, so its effects are visible to every waiter.
	// It must not wait on the handle.
	OnResolve func(Result, error)
}

// Result is the outcome of a run.
type Result struct {
	// Response is the final text, or the decoded JSON value when an output
	// schema is declared.
	Response         any
	Text             string
	Usage            core.Usage
	Turns            int
	History          []core.Message
	ToolCalls        []ToolCallRecord
	MaxTurnsExceeded bool
}

// Loop drives the request, stream and tool-dispatch cycle against one model.
// A Loop is immutable and may start any number of independent runs.
type Loop struct {
	model      model.Model
	dispatcher *Dispatcher
	opts       Options
}

// NewLoop creates a Loop. A nil dispatcher means no tools.
func NewLoop(m model.Model, d *Dispatcher, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxTurns: DefaultMaxTurns,
		Tracer:   core.NoOpTracer{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if d == nil {
		d = NewDispatcher(nil, func(o *DispatcherOptions) {
			o.Logger = opts.Logger
			o.Tracer = opts.Tracer
		})
	}
	return &Loop{model: m, dispatcher: d, opts: opts}
}

// Start launches a run over history in its own goroutine. Handlers are
// subscribed before the run begins so they observe every event.
func (l *Loop) Start(ctx context.Context, history []core.Message, handlers ...Handler) *Progress {
	ctx, cancel := context.WithCancel(ctx)
	p := newProgress(cancel)
	p.onResolve = l.opts.OnResolve
	for _, h := range handlers {
		p.Subscribe(h)
	}

	r := &run{
		loop:     l,
		id:       core.NewID(),
		progress: p,
		history:  core.CloneMessages(history),
		state:    core.NewRunState(),
		limiter:  core.NewTurnLimiter(l.opts.MaxTurns),
	}
	go func() {
		defer close(p.stopped)
		defer cancel()
		r.execute(ctx)
		r.drain()
	}()
	return p
}

// Run starts a run and waits for its outcome. Cancelling ctx resolves the
// run with CANCELLED.
func (l *Loop) Run(ctx context.Context, history []core.Message, handlers ...Handler) (Result, error) {
	p := l.Start(ctx, history, handlers...)
	<-p.Done()
	return p.Wait(context.Background())
}

type run struct {
	loop     *Loop
	id       string
	progress *Progress
	history  []core.Message
	state    *core.RunState
	limiter  *core.TurnLimiter
	usage    core.Usage
	calls    []ToolCallRecord
	lastText string
	batches  []*Batch
}

func (r *run) execute(ctx context.Context) {
	opts := r.loop.opts
	start := time.Now()

	ctx, span := opts.Tracer.StartSpan(ctx, "agent.run", "run_id", r.id)
	opts.Logger.Info("flow.run.start", "run_id", r.id, "model", r.loop.model.Info().Name, "max_turns", opts.MaxTurns)

	res, err := r.loopTurns(ctx)
	if err == nil && ctx.Err() != nil {
		err = cancelled(ctx)
	}
	if err != nil && err.Kind == core.ErrCancelled {
		res = Result{}
	}

	var spanErr error
	if err != nil {
		spanErr = err
		if err.Kind != core.ErrCancelled && err.Kind != core.ErrMaxTurnsExceeded {
			r.progress.setState(StateErrored)
			r.progress.emit(Event{Type: EventError, Turn: r.limiter.Count(), Err: err})
		}
		opts.Logger.Warn("flow.run.failed", "run_id", r.id, "kind", string(err.Kind), "error", err.Message, "duration_ms", time.Since(start).Milliseconds())
		opts.Tracer.Error("flow.run.failed", "run_id", r.id, "kind", string(err.Kind))
	} else {
		opts.Logger.Info("flow.run.complete", "run_id", r.id, "turns", res.Turns, "tokens", res.Usage.Total(), "duration_ms", time.Since(start).Milliseconds())
	}
	span.End(spanErr)

	r.progress.resolve(res, err)
}

// drain waits for tool calls left running by a cancelled turn.
func (r *run) drain() {
	for _, b := range r.batches {
		b.Wait()
	}
}

func (r *run) loopTurns(ctx context.Context) (Result, *core.Error) {
	opts := r.loop.opts
	system := r.systemPrompt(ctx)

	var tools []model.ToolDefinition
	for _, def := range r.loop.dispatcher.Registry().Definitions() {
		tools = append(tools, model.ToolDefinition{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}

	for {
		if ctx.Err() != nil {
			return Result{}, cancelled(ctx)
		}
		if err := r.limiter.Increment(); err != nil {
			opts.Tracer.Warn("flow.turns.exceeded", "run_id", r.id, "max_turns", opts.MaxTurns)
			res := r.result("")
			res.MaxTurnsExceeded = true
			return res, core.NewError(core.ErrMaxTurnsExceeded, "no final answer after %d turns", opts.MaxTurns)
		}
		turn := r.limiter.Count()

		r.progress.setState(StateRequesting)
		req := model.Request{
			SystemPrompt: system,
			Messages:     core.CloneMessages(r.history),
			Tools:        tools,
			Options:      opts.GenerateOptions,
			Timeout:      opts.RequestTimeout,
		}

		done, err := r.turn(ctx, turn, req)
		if err != nil {
			return r.result(""), err
		}
		if done {
			return r.finalize()
		}
	}
}

// turn runs one Requesting → Streaming → (ToolDispatch) cycle. It reports
// whether the assistant produced a final answer.
func (r *run) turn(ctx context.Context, turn int, req model.Request) (bool, *core.Error) {
	opts := r.loop.opts
	start := time.Now()

	turnCtx, span := opts.Tracer.StartSpan(ctx, "agent.turn", "run_id", r.id, "turn", turn)
	opts.Logger.Debug("flow.turn.start", "run_id", r.id, "turn", turn, "messages", len(req.Messages))

	stream := r.loop.model.Stream(turnCtx, req)
	r.progress.setState(StateStreaming)

	asm := newAssembler(turn)
	batch := r.loop.dispatcher.NewBatch(ctx, r.id, r.state)
	r.batches = append(r.batches, batch)
	turnUsage, streamErr := r.consume(ctx, stream, asm, batch)
	_ = stream.Close()

	r.usage = r.usage.Add(turnUsage)
	var llmErr error
	if streamErr != nil {
		llmErr = streamErr
	}
	opts.Tracer.RecordLLMCall(r.loop.model.Info().Name, turnUsage.Total(), time.Since(start), llmErr)

	if streamErr != nil {
		span.End(streamErr)
		if streamErr.Kind == core.ErrCancelled {
			return false, streamErr
		}
		r.abandon(ctx, asm, batch)
		return false, streamErr
	}

	// End-of-stream reconciliation.
	evs, pending := asm.close()
	r.emitAll(evs)
	for _, rec := range pending {
		batch.Go(rec)
	}

	msg := asm.message()
	if len(msg.Parts) > 0 {
		r.history = append(r.history, msg)
	}
	r.lastText = msg.Text()

	if batch.Len() == 0 {
		span.End(nil)
		opts.Logger.Debug("flow.turn.complete", "run_id", r.id, "turn", turn, "final", true, "duration_ms", time.Since(start).Milliseconds())
		return true, nil
	}

	r.progress.setState(StateToolDispatch)
	if err := r.await(ctx, batch); err != nil {
		span.End(err)
		return false, err
	}
	for _, rec := range asm.calls() {
		r.history = append(r.history, core.NewToolResultMessage(*rec.Result))
		r.calls = append(r.calls, *rec)
	}

	span.End(nil)
	opts.Logger.Debug("flow.turn.complete", "run_id", r.id, "turn", turn, "tool_calls", batch.Len(), "duration_ms", time.Since(start).Milliseconds())
	return false, nil
}

// consume pulls chunks until the stream ends, forwarding progress events and
// dispatching each tool call as soon as it is closed.
func (r *run) consume(ctx context.Context, stream model.ChunkStream, asm *assembler, batch *Batch) (core.Usage, *core.Error) {
	var usage core.Usage
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return usage, cancelled(ctx)
			}
			return usage, core.NewError(core.ErrStreaming, "stream ended without a done chunk")
		}
		if err != nil {
			return usage, core.WrapError(core.ErrStreaming, err)
		}
		if ctx.Err() != nil {
			return usage, cancelled(ctx)
		}

		switch chunk.Type {
		case core.ChunkUsage:
			if chunk.Usage != nil {
				usage = usage.Add(*chunk.Usage)
			}
		case core.ChunkError:
			if chunk.Err == nil {
				return usage, core.NewError(core.ErrStreaming, "error chunk without details")
			}
			return usage, chunk.Err
		case core.ChunkDone:
			return usage, nil
		default:
			evs, rec, aerr := asm.apply(chunk)
			if aerr != nil {
				return usage, aerr
			}
			r.emitAll(evs)
			if rec != nil {
				batch.Go(rec)
			}
		}
	}
}

// abandon handles the tool calls of a failed turn according to the partial
// result policy. Dispatched calls are always awaited.
func (r *run) abandon(ctx context.Context, asm *assembler, batch *Batch) {
	if batch.Len() == 0 {
		return
	}
	if err := r.await(ctx, batch); err != nil {
		return
	}
	if r.loop.opts.PartialPolicy != PersistPartialResults {
		r.loop.opts.Logger.Debug("flow.partial.discarded", "run_id", r.id, "tool_calls", batch.Len())
		return
	}
	r.history = append(r.history, asm.message())
	for _, rec := range asm.calls() {
		if rec.Result != nil {
			r.history = append(r.history, core.NewToolResultMessage(*rec.Result))
			r.calls = append(r.calls, *rec)
		}
	}
}

// await waits for the batch unless the run is cancelled first.
func (r *run) await(ctx context.Context, batch *Batch) *core.Error {
	select {
	case <-batch.Done():
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

func (r *run) finalize() (Result, *core.Error) {
	r.progress.setState(StateFinalizing)
	res := r.result(r.lastText)

	schema := r.loop.opts.OutputSchema
	if schema == nil {
		return res, nil
	}

	var v any
	if err := json.Unmarshal([]byte(stripFence(res.Text)), &v); err != nil {
		return res, core.NewError(core.ErrOutputSchemaMismatch, "final text is not valid JSON: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return res, core.NewError(core.ErrOutputSchemaMismatch, "%v", err)
	}
	res.Response = v
	return res, nil
}

func (r *run) result(text string) Result {
	return Result{
		Response:  text,
		Text:      text,
		Usage:     r.usage,
		Turns:     r.limiter.Count(),
		History:   core.CloneMessages(r.history),
		ToolCalls: append([]ToolCallRecord(nil), r.calls...),
	}
}

// systemPrompt appends recalled memory to the configured prompt once per run.
func (r *run) systemPrompt(ctx context.Context) string {
	opts := r.loop.opts
	if opts.Memory == nil {
		return opts.SystemPrompt
	}

	recalled, err := opts.Memory.Recall(ctx, lastUserText(r.history))
	if err != nil {
		opts.Logger.Warn("flow.memory.recall_failed", "run_id", r.id, "error", err.Error())
		return opts.SystemPrompt
	}
	recalled = strings.TrimSpace(recalled)
	switch {
	case recalled == "":
		return opts.SystemPrompt
	case opts.SystemPrompt == "":
		return recalled
	default:
		return opts.SystemPrompt + "\n\n" + recalled
	}
}

func (r *run) emitAll(evs []Event) {
	for _, ev := range evs {
		r.progress.emit(ev)
	}
}

func lastUserText(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Text()
		}
	}
	return ""
}

// stripFence removes a surrounding markdown code fence, which models often
// add around JSON answers.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func cancelled(ctx context.Context) *core.Error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return core.WrapError(core.ErrCancelled, cause)
}
