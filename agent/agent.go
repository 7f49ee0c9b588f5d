package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool"
)

// ErrAgentBusy is returned by Send while a previous run is still in flight.
var ErrAgentBusy = errors.New("agent: a run is already in flight")

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	Instruction Instruction
	Description string
	Tools       []tool.Tool
	// ToolSettings are passed to tools implementing tool.Configurable, keyed
	// by tool name.
	ToolSettings     map[string]map[string]any
	MaxTurns         int
	ToolTimeout      time.Duration
	RequestTimeout   time.Duration
	MaxParallelTools int
	OutputSchema     tool.Schema
	Memory           core.MemoryProvider
	GenerateOptions  model.GenerateOptions
	PartialPolicy    flow.PartialResultPolicy
	// MaxHistoryMessages bounds the conversation sent per run. The window
	// always starts at a user message. Zero keeps everything.
	MaxHistoryMessages int
	// Sessions, when set together with SessionID, is the source of truth for
	// the conversation: it is loaded at every send and saved after every
	// successful run.
	Sessions  core.SessionStore
	SessionID string
	Logger    logging.Logger
	Tracer    core.Tracer
}

// Agent binds a model, an instruction and a tool registry into a
// conversational unit. It holds the conversation across sends and runs at
// most one turn loop at a time.
type Agent struct {
	name       string
	model      model.Model
	dispatcher *flow.Dispatcher
	opts       Options

	mu      sync.Mutex
	running bool
	gen     uint64
	history []core.Message
}

// New creates an agent. It fails when m is nil or when two tools share a
// name.
func New(name string, m model.Model, optFns ...func(o *Options)) (*Agent, error) {
	if m == nil {
		return nil, core.NewError(core.ErrProviderNotConfigured, "agent %s has no model", name)
	}

	opts := Options{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		Description: fmt.Sprintf("Agent %s", name),
		MaxTurns:    flow.DefaultMaxTurns,
		ToolTimeout: 15 * time.Second,
		Logger:      logging.NoOpLogger{},
		Tracer:      core.NoOpTracer{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry, err := tool.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, t := range opts.Tools {
		if err := registry.RegisterWithSettings(t, opts.ToolSettings[t.Name()]); err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
	}

	dispatcher := flow.NewDispatcher(registry, func(o *flow.DispatcherOptions) {
		o.ToolTimeout = opts.ToolTimeout
		o.MaxParallel = opts.MaxParallelTools
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
	})

	return &Agent{name: name, model: m, dispatcher: dispatcher, opts: opts}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.opts.Description }

// Model returns the backing model.
func (a *Agent) Model() model.Model { return a.model }

// Tools returns the registered tool names sorted.
func (a *Agent) Tools() []string { return a.dispatcher.Registry().Names() }

// Running reports whether a run is in flight.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// History returns a copy of the committed conversation.
func (a *Agent) History() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return core.CloneMessages(a.history)
}

// Reset clears the committed conversation, including the stored session.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.save(nil)
}

// Clone returns an independent agent sharing the model, options and tools
// with a copy of the committed conversation. A clone of a session-backed
// agent continues the same session.
func (a *Agent) Clone() *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Agent{
		name:       a.name,
		model:      a.model,
		dispatcher: a.dispatcher,
		opts:       a.opts,
		history:    core.CloneMessages(a.history),
	}
}

// Send starts a run answering input and returns its progress handle
// immediately. Handlers observe every event of the run. A successful run
// commits its history before the handle resolves; a failed or cancelled run
// leaves the conversation unchanged.
//
// Send returns ErrAgentBusy while a previous run is in flight. A cancelled
// run keeps the agent busy until its dispatched tool calls have returned.
func (a *Agent) Send(ctx context.Context, input string, handlers ...flow.Handler) (*flow.Progress, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, ErrAgentBusy
	}
	a.running = true
	a.gen++
	gen := a.gen
	prior := core.CloneMessages(a.history)
	a.mu.Unlock()

	if a.persistent() {
		loaded, err := a.opts.Sessions.Load(ctx, a.opts.SessionID)
		if err != nil {
			a.release()
			a.opts.Logger.Error("agent.session.load_failed", "agent", a.name, "session", a.opts.SessionID, "error", err.Error())
			return nil, fmt.Errorf("load session %s: %w", a.opts.SessionID, err)
		}
		prior = loaded
	}
	history := append(prior, core.NewUserMessage(input))

	system, err := a.opts.Instruction.Resolve(ctx)
	if err != nil {
		a.release()
		a.opts.Logger.Error("agent.instruction.error", "agent", a.name, "error", err.Error())
		return nil, fmt.Errorf("resolve instruction: %w", err)
	}

	window := trimHistory(history, a.opts.MaxHistoryMessages)
	prefix := history[:len(history)-len(window)]

	loop := flow.NewLoop(a.model, a.dispatcher, func(o *flow.Options) {
		o.SystemPrompt = system
		o.MaxTurns = a.opts.MaxTurns
		o.RequestTimeout = a.opts.RequestTimeout
		o.GenerateOptions = a.opts.GenerateOptions
		o.OutputSchema = a.opts.OutputSchema
		o.Memory = a.opts.Memory
		o.PartialPolicy = a.opts.PartialPolicy
		o.Logger = a.opts.Logger
		o.Tracer = a.opts.Tracer
		o.OnResolve = func(res flow.Result, err error) { a.commit(prefix, res, err) }
	})

	a.opts.Logger.Debug("agent.run.start", "agent", a.name, "history", len(history))

	p := loop.Start(ctx, window, handlers...)
	go func() {
		<-p.Stopped()
		a.finish(gen)
	}()
	return p, nil
}

// Run sends input and waits for the outcome.
func (a *Agent) Run(ctx context.Context, input string, handlers ...flow.Handler) (flow.Result, error) {
	p, err := a.Send(ctx, input, handlers...)
	if err != nil {
		return flow.Result{}, err
	}
	<-p.Done()
	return p.Wait(context.Background())
}

// commit settles a run's outcome. A cancelled run may still have tool
// calls in flight, so it stays running until finish.
func (a *Agent) commit(prefix []core.Message, res flow.Result, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.opts.Logger.Warn("agent.run.failed", "agent", a.name, "kind", string(core.KindOf(err)))
		if !core.IsKind(err, core.ErrCancelled) {
			a.running = false
		}
		return
	}
	a.running = false
	a.history = append(core.CloneMessages(prefix), res.History...)
	a.save(a.history)
	a.opts.Logger.Debug("agent.run.complete", "agent", a.name, "turns", res.Turns, "history", len(a.history))
}

// finish releases the agent once run gen has fully stopped, unless a newer
// run already owns it.
func (a *Agent) finish(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.running = false
	}
}

func (a *Agent) persistent() bool {
	return a.opts.Sessions != nil && a.opts.SessionID != ""
}

// save writes history to the session store. Failures are logged; the
// in-memory conversation stays committed.
func (a *Agent) save(history []core.Message) {
	if !a.persistent() {
		return
	}
	if err := a.opts.Sessions.Save(context.Background(), a.opts.SessionID, history); err != nil {
		a.opts.Logger.Error("agent.session.save_failed", "agent", a.name, "session", a.opts.SessionID, "error", err.Error())
	}
}

func (a *Agent) release() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// trimHistory keeps at most max trailing messages, advancing the window to
// the next user message so tool results never lose their calls.
func trimHistory(history []core.Message, max int) []core.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	window := history[len(history)-max:]
	for i, msg := range window {
		if msg.Role == core.RoleUser {
			return window[i:]
		}
	}
	return history[len(history)-1:]
}
