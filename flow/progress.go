package flow

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// EventType enumerates progress notifications.
type EventType string

const (
	EventPartStart  EventType = "part-start"
	EventPartUpdate EventType = "part-update"
	EventPartEnd    EventType = "part-end"
	EventError      EventType = "error"
)

// Event is a progress notification derived from the chunk stream. Index and
// PartType identify the part within the assistant message of Turn.
type Event struct {
	Type       EventType
	Turn       int
	Index      int
	PartType   core.PartType
	Delta      string      // part-update
	ToolCallID string      // part-start of a tool call
	ToolName   string      // part-start of a tool call
	Err        *core.Error // error
}

// Handler receives progress events.
type Handler func(Event)

// Progress is the caller's view of one run: live part notifications and a
// single final outcome. Events are delivered synchronously on the run
// goroutine in emission order, once per subscriber. Nothing is replayed for
// late subscribers.
type Progress struct {
	mu        sync.Mutex
	subs      map[int]Handler
	nextID    int
	cancelled bool
	state     State

	cancel     context.CancelFunc
	once       sync.Once
	done       chan struct{}
	stopped    chan struct{}
	resolved   bool
	onResolve  func(Result, error)
	onComplete []func(Result, error)
	result     Result
	err        *core.Error
}

func newProgress(cancel context.CancelFunc) *Progress {
	return &Progress{
		subs:    map[int]Handler{},
		cancel:  cancel,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
}

// Subscribe registers h and returns a function removing it.
func (p *Progress) Subscribe(h Handler) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = h
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// OnPartStart subscribes to part-start notifications.
func (p *Progress) OnPartStart(fn func(turn, index int, t core.PartType)) func() {
	return p.Subscribe(func(ev Event) {
		if ev.Type == EventPartStart {
			fn(ev.Turn, ev.Index, ev.PartType)
		}
	})
}

// OnPartUpdate subscribes to part-update notifications.
func (p *Progress) OnPartUpdate(fn func(turn, index int, t core.PartType, delta string)) func() {
	return p.Subscribe(func(ev Event) {
		if ev.Type == EventPartUpdate {
			fn(ev.Turn, ev.Index, ev.PartType, ev.Delta)
		}
	})
}

// OnPartEnd subscribes to part-end notifications.
func (p *Progress) OnPartEnd(fn func(turn, index int, t core.PartType)) func() {
	return p.Subscribe(func(ev Event) {
		if ev.Type == EventPartEnd {
			fn(ev.Turn, ev.Index, ev.PartType)
		}
	})
}

// OnError subscribes to error notifications.
func (p *Progress) OnError(fn func(err *core.Error)) func() {
	return p.Subscribe(func(ev Event) {
		if ev.Type == EventError {
			fn(ev.Err)
		}
	})
}

// emit delivers ev to every current subscriber, stopping as soon as the
// run has been cancelled.
func (p *Progress) emit(ev Event) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		p.mu.Lock()
		h, ok := p.subs[id]
		stop := p.cancelled
		p.mu.Unlock()
		if stop {
			return
		}
		if ok {
			h(ev)
		}
	}
}

// Cancel stops the run. Events not yet delivered are dropped and the outcome
// resolves with CANCELLED without waiting for running tools.
func (p *Progress) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()

	p.cancel()
	p.resolve(Result{}, core.NewError(core.ErrCancelled, "run cancelled"))
}

// State returns the current turn-loop state.
func (p *Progress) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Progress) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.terminal() {
		return
	}
	p.state = s
}

// OnComplete registers fn to run once with the outcome, after Done is
// closed. If the outcome is already available fn runs immediately.
func (p *Progress) OnComplete(fn func(Result, error)) {
	p.mu.Lock()
	if !p.resolved {
		p.onComplete = append(p.onComplete, fn)
		p.mu.Unlock()
		return
	}
	res, err := p.result, p.outcomeErr()
	p.mu.Unlock()
	fn(res, err)
}

// Done returns a channel closed once the outcome is available.
func (p *Progress) Done() <-chan struct{} { return p.done }

// Stopped returns a channel closed once the run and every tool call it
// dispatched have returned. After Cancel it can close well after Done.
func (p *Progress) Stopped() <-chan struct{} { return p.stopped }

// Wait blocks for the outcome. A nil error means the run finished; any
// failure is a *core.Error. If ctx ends first, ctx.Err() is returned and
// the run keeps going.
func (p *Progress) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, p.outcomeErr()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve settles the outcome once; later calls are ignored.
func (p *Progress) resolve(res Result, err *core.Error) bool {
	first := false
	p.once.Do(func() {
		p.mu.Lock()
		p.result = res
		p.err = err
		p.resolved = true
		if err != nil && err.Kind != core.ErrMaxTurnsExceeded {
			p.state = StateErrored
		} else {
			p.state = StateDone
		}
		hooks := p.onComplete
		p.onComplete = nil
		outcome := p.outcomeErr()
		p.mu.Unlock()

		if p.onResolve != nil {
			p.onResolve(res, outcome)
		}
		close(p.done)
		for _, fn := range hooks {
			fn(res, outcome)
		}
		first = true
	})
	return first
}

// outcomeErr returns the failure as an error interface, nil when the run
// succeeded. Callers hold p.mu.
func (p *Progress) outcomeErr() error {
	if p.err == nil {
		return nil
	}
	return p.err
}
