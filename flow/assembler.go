package flow

import (
	"strings"

	"github.com/hupe1980/agentstream/core"
)

// ToolCallRecord tracks one tool call from its start chunk to its result.
// Arguments is the raw argument text concatenated in arrival order.
type ToolCallRecord struct {
	Turn      int
	Index     int
	ID        string
	Name      string
	Arguments string
	Result    *core.ToolResult
}

// Call returns the finalized call.
func (r *ToolCallRecord) Call() core.ToolCall {
	return core.ToolCall{ID: r.ID, Name: r.Name, Arguments: r.Arguments}
}

type assembledPart struct {
	kind      core.PartType
	text      strings.Builder
	signature string
	open      bool
	call      *ToolCallRecord
	args      strings.Builder
	finalized bool
}

// assembler folds the chunks of one turn into the assistant message and
// translates them into progress events. Parts keep the order in which their
// indices first appeared; the index is only a correlation key.
type assembler struct {
	turn  int
	parts map[int]*assembledPart
	order []int
}

func newAssembler(turn int) *assembler {
	return &assembler{turn: turn, parts: map[int]*assembledPart{}}
}

// apply folds c into the message. It returns the progress events to emit
// and, on tool-call-end, the finalized call. A chunk that contradicts the
// parts seen so far is a STREAMING_ERROR.
func (a *assembler) apply(c core.Chunk) ([]Event, *ToolCallRecord, *core.Error) {
	switch c.Type {
	case core.ChunkTextDelta:
		return a.delta(c, core.PartTypeText)
	case core.ChunkThinkingDelta:
		evs, _, err := a.delta(c, core.PartTypeThinking)
		if err == nil && c.Signature != "" {
			a.parts[c.Index].signature = c.Signature
		}
		return evs, nil, err
	case core.ChunkTextEnd:
		p, err := a.expect(c, core.PartTypeText)
		if err != nil {
			return nil, nil, err
		}
		p.open = false
		return []Event{a.event(EventPartEnd, c.Index, core.PartTypeText)}, nil, nil
	case core.ChunkToolCallStart:
		if _, exists := a.parts[c.Index]; exists {
			return nil, nil, core.NewError(core.ErrStreaming, "tool-call-start for index %d which is already in use", c.Index)
		}
		rec := &ToolCallRecord{Turn: a.turn, Index: c.Index, ID: c.ToolCallID, Name: c.ToolName}
		a.add(c.Index, &assembledPart{kind: core.PartTypeToolCall, open: true, call: rec})
		ev := a.event(EventPartStart, c.Index, core.PartTypeToolCall)
		ev.ToolCallID, ev.ToolName = c.ToolCallID, c.ToolName
		return []Event{ev}, nil, nil
	case core.ChunkToolCallDelta:
		p, err := a.expect(c, core.PartTypeToolCall)
		if err != nil {
			return nil, nil, err
		}
		p.args.WriteString(c.Text)
		ev := a.event(EventPartUpdate, c.Index, core.PartTypeToolCall)
		ev.Delta = c.Text
		return []Event{ev}, nil, nil
	case core.ChunkToolCallEnd:
		p, err := a.expect(c, core.PartTypeToolCall)
		if err != nil {
			return nil, nil, err
		}
		if c.ToolCallID != "" && p.call.ID != "" && c.ToolCallID != p.call.ID {
			return nil, nil, core.NewError(core.ErrStreaming, "tool-call-end for index %d carries id %q, started as %q", c.Index, c.ToolCallID, p.call.ID)
		}
		p.open = false
		return []Event{a.event(EventPartEnd, c.Index, core.PartTypeToolCall)}, a.finalize(p), nil
	}
	return nil, nil, nil
}

func (a *assembler) delta(c core.Chunk, kind core.PartType) ([]Event, *ToolCallRecord, *core.Error) {
	var evs []Event
	p, exists := a.parts[c.Index]
	if !exists {
		p = &assembledPart{kind: kind, open: true}
		a.add(c.Index, p)
		evs = append(evs, a.event(EventPartStart, c.Index, kind))
	} else if _, err := a.expect(c, kind); err != nil {
		return nil, nil, err
	}
	p.text.WriteString(c.Text)
	ev := a.event(EventPartUpdate, c.Index, kind)
	ev.Delta = c.Text
	return append(evs, ev), nil, nil
}

func (a *assembler) add(index int, p *assembledPart) {
	a.parts[index] = p
	a.order = append(a.order, index)
}

func (a *assembler) expect(c core.Chunk, kind core.PartType) (*assembledPart, *core.Error) {
	p, ok := a.parts[c.Index]
	switch {
	case !ok:
		return nil, core.NewError(core.ErrStreaming, "%s for index %d without a start", c.Type, c.Index)
	case p.kind != kind:
		return nil, core.NewError(core.ErrStreaming, "%s for index %d which holds a %s part", c.Type, c.Index, p.kind)
	case !p.open:
		return nil, core.NewError(core.ErrStreaming, "%s for index %d after its end", c.Type, c.Index)
	}
	return p, nil
}

func (a *assembler) finalize(p *assembledPart) *ToolCallRecord {
	if p.finalized {
		return nil
	}
	p.finalized = true
	p.call.Arguments = p.args.String()
	if p.call.ID == "" {
		p.call.ID = core.NewID()
	}
	return p.call
}

// close ends every open part in declaration order. Tool calls never closed by the
// stream are finalized and returned for dispatch.
func (a *assembler) close() ([]Event, []*ToolCallRecord) {
	var (
		evs   []Event
		calls []*ToolCallRecord
	)
	for _, idx := range a.order {
		p := a.parts[idx]
		if p.open {
			p.open = false
			evs = append(evs, a.event(EventPartEnd, idx, p.kind))
		}
		if p.kind == core.PartTypeToolCall {
			if rec := a.finalize(p); rec != nil {
				calls = append(calls, rec)
			}
		}
	}
	return evs, calls
}

// message returns the assistant message with parts in declaration order.
func (a *assembler) message() core.Message {
	msg := core.Message{Role: core.RoleAssistant}
	for _, idx := range a.order {
		p := a.parts[idx]
		switch p.kind {
		case core.PartTypeText:
			msg.Parts = append(msg.Parts, core.TextPart{Text: p.text.String()})
		case core.PartTypeThinking:
			msg.Parts = append(msg.Parts, core.ThinkingPart{Text: p.text.String(), Signature: p.signature})
		case core.PartTypeToolCall:
			if p.finalized {
				msg.Parts = append(msg.Parts, core.ToolCallPart{ToolCall: p.call.Call()})
			}
		}
	}
	return msg
}

// calls returns the finalized tool calls in declaration order.
func (a *assembler) calls() []*ToolCallRecord {
	var out []*ToolCallRecord
	for _, idx := range a.order {
		if p := a.parts[idx]; p.kind == core.PartTypeToolCall && p.finalized {
			out = append(out, p.call)
		}
	}
	return out
}

func (a *assembler) event(t EventType, index int, kind core.PartType) Event {
	return Event{Type: t, Turn: a.turn, Index: index, PartType: kind}
}
