package flow

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
)

func applyAll(t *testing.T, a *assembler, chunks ...core.Chunk) ([]Event, []*ToolCallRecord) {
	t.Helper()
	var (
		evs  []Event
		recs []*ToolCallRecord
	)
	for _, c := range chunks {
		e, rec, err := a.apply(c)
		require.Nil(t, err, "chunk %s/%d", c.Type, c.Index)
		evs = append(evs, e...)
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return evs, recs
}

func TestAssembler_InterleavedIndices(t *testing.T) {
	a := newAssembler(2)
	evs, recs := applyAll(t, a,
		core.TextDelta(0, "Let me "),
		core.ToolCallStart(1, "call_1", "lookup"),
		core.TextDelta(0, "check."),
		core.ToolCallDelta(1, `{"q":`),
		core.ThinkingDelta(2, "hmm", ""),
		core.ToolCallDelta(1, `"go"}`),
		core.ThinkingDelta(2, "...", "sig"),
		core.ToolCallEnd(1, "call_1"),
		core.TextEnd(0),
	)

	require.Len(t, recs, 1)
	assert.Equal(t, &ToolCallRecord{Turn: 2, Index: 1, ID: "call_1", Name: "lookup", Arguments: `{"q":"go"}`}, recs[0])

	var textDeltas []string
	for _, ev := range evs {
		assert.Equal(t, 2, ev.Turn)
		if ev.Type == EventPartUpdate && ev.Index == 0 {
			assert.Equal(t, core.PartTypeText, ev.PartType)
			textDeltas = append(textDeltas, ev.Delta)
		}
	}
	assert.Equal(t, []string{"Let me ", "check."}, textDeltas)

	closing, pending := a.close()
	assert.Empty(t, pending)
	assert.Equal(t, []Event{{Type: EventPartEnd, Turn: 2, Index: 2, PartType: core.PartTypeThinking}}, closing)

	msg := a.message()
	assert.Equal(t, core.RoleAssistant, msg.Role)
	assert.Equal(t, []core.Part{
		core.TextPart{Text: "Let me check."},
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"q":"go"}`}},
		core.ThinkingPart{Text: "hmm...", Signature: "sig"},
	}, msg.Parts)
}

// interleave merges the per-index sequences at random, keeping the order
// within each sequence.
func interleave(rng *rand.Rand, seqs [][]core.Chunk) []core.Chunk {
	pos := make([]int, len(seqs))
	var out []core.Chunk
	for {
		var live []int
		for i, seq := range seqs {
			if pos[i] < len(seq) {
				live = append(live, i)
			}
		}
		if len(live) == 0 {
			return out
		}
		i := live[rng.Intn(len(live))]
		out = append(out, seqs[i][pos[i]])
		pos[i]++
	}
}

func TestAssembler_InterleavedPermutations(t *testing.T) {
	seqs := [][]core.Chunk{
		{core.TextDelta(4, "t0"), core.TextDelta(4, "t1"), core.TextDelta(4, "t2"), core.TextEnd(4)},
		{core.ToolCallStart(1, "c1", "lookup"), core.ToolCallDelta(1, `{"q":`), core.ToolCallDelta(1, `"x"}`), core.ToolCallEnd(1, "c1")},
		{core.ThinkingDelta(7, "a", ""), core.ThinkingDelta(7, "b", "sig")},
		{core.ToolCallStart(0, "c0", "other"), core.ToolCallDelta(0, "{}"), core.ToolCallEnd(0, "")},
	}
	kinds := map[int]core.PartType{4: core.PartTypeText, 1: core.PartTypeToolCall, 7: core.PartTypeThinking, 0: core.PartTypeToolCall}
	fragments := map[int][]string{4: {"t0", "t1", "t2"}, 1: {`{"q":`, `"x"}`}, 7: {"a", "b"}, 0: {"{}"}}
	parts := map[int]core.Part{
		4: core.TextPart{Text: "t0t1t2"},
		1: core.ToolCallPart{ToolCall: core.ToolCall{ID: "c1", Name: "lookup", Arguments: `{"q":"x"}`}},
		7: core.ThinkingPart{Text: "ab", Signature: "sig"},
		0: core.ToolCallPart{ToolCall: core.ToolCall{ID: "c0", Name: "other", Arguments: "{}"}},
	}

	for seed := int64(1); seed <= 200; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			chunks := interleave(rand.New(rand.NewSource(seed)), seqs)

			var firstSeen []int
			seen := map[int]bool{}
			for _, c := range chunks {
				if !seen[c.Index] {
					seen[c.Index] = true
					firstSeen = append(firstSeen, c.Index)
				}
			}

			a := newAssembler(1)
			evs, recs := applyAll(t, a, chunks...)
			closing, pending := a.close()
			evs = append(evs, closing...)
			assert.Empty(t, pending)
			require.Len(t, recs, 2)

			deltas := map[int][]string{}
			started := map[int]bool{}
			for _, ev := range evs {
				assert.Equal(t, kinds[ev.Index], ev.PartType, "index %d", ev.Index)
				if ev.Type == EventPartStart {
					started[ev.Index] = true
				} else {
					assert.True(t, started[ev.Index], "%s before part-start for index %d", ev.Type, ev.Index)
				}
				if ev.Type == EventPartUpdate {
					deltas[ev.Index] = append(deltas[ev.Index], ev.Delta)
				}
			}
			assert.Equal(t, fragments, deltas)

			want := make([]core.Part, 0, len(firstSeen))
			for _, idx := range firstSeen {
				want = append(want, parts[idx])
			}
			assert.Equal(t, want, a.message().Parts)

			var names []string
			for _, rec := range a.calls() {
				names = append(names, rec.Name)
			}
			if indexOf(firstSeen, 0) < indexOf(firstSeen, 1) {
				assert.Equal(t, []string{"other", "lookup"}, names)
			} else {
				assert.Equal(t, []string{"lookup", "other"}, names)
			}
		})
	}
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestAssembler_DeclarationOrderNotIndexOrder(t *testing.T) {
	a := newAssembler(1)
	_, recs := applyAll(t, a,
		core.ToolCallStart(5, "a", "first"),
		core.ToolCallDelta(5, "{}"),
		core.ToolCallEnd(5, "a"),
		core.ToolCallStart(2, "b", "second"),
		core.ToolCallDelta(2, "{}"),
		core.ToolCallEnd(2, "b"),
		core.TextDelta(0, "done"),
	)
	require.Len(t, recs, 2)

	calls := a.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)

	msg := a.message()
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "a", msg.Parts[0].(core.ToolCallPart).ToolCall.ID)
	assert.Equal(t, "b", msg.Parts[1].(core.ToolCallPart).ToolCall.ID)
	assert.Equal(t, core.TextPart{Text: "done"}, msg.Parts[2])
}

func TestAssembler_ToolCallEndID(t *testing.T) {
	a := newAssembler(1)
	_, recs := applyAll(t, a,
		core.ToolCallStart(0, "c1", "t"),
		core.ToolCallEnd(0, "c1"),
		core.ToolCallStart(1, "c2", "t"),
		core.ToolCallEnd(1, ""),
	)
	require.Len(t, recs, 2)

	applyAll(t, a, core.ToolCallStart(2, "c3", "t"))
	evs, rec, err := a.apply(core.ToolCallEnd(2, "c1"))
	require.NotNil(t, err)
	assert.Equal(t, core.ErrStreaming, err.Kind)
	assert.Nil(t, rec)
	assert.Empty(t, evs)
}

func TestAssembler_CloseFinalizesOpenCalls(t *testing.T) {
	a := newAssembler(1)
	_, recs := applyAll(t, a,
		core.ToolCallStart(3, "", "b"),
		core.ToolCallStart(0, "", "a"),
		core.ToolCallDelta(0, "{}"),
	)
	assert.Empty(t, recs)

	evs, pending := a.close()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].Name)
	assert.Equal(t, "a", pending[1].Name)
	assert.NotEmpty(t, pending[0].ID)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)
	require.Len(t, evs, 2)
	assert.Equal(t, 3, evs[0].Index)
	assert.Equal(t, 0, evs[1].Index)

	calls := a.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 3, calls[0].Index)
	assert.Equal(t, 0, calls[1].Index)

	again, none := a.close()
	assert.Empty(t, again)
	assert.Empty(t, none)
}

func TestAssembler_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		chunks []core.Chunk
	}{
		{"text end without start", []core.Chunk{core.TextEnd(0)}},
		{"tool end without start", []core.Chunk{core.ToolCallEnd(1, "")}},
		{"tool end id mismatch", []core.Chunk{core.ToolCallStart(0, "x", "t"), core.ToolCallEnd(0, "y")}},
		{"tool start reuses index", []core.Chunk{core.TextDelta(0, "a"), core.ToolCallStart(0, "x", "t")}},
		{"thinking on text index", []core.Chunk{core.TextDelta(0, "a"), core.ThinkingDelta(0, "b", "")}},
		{"double tool end", []core.Chunk{core.ToolCallStart(0, "x", "t"), core.ToolCallEnd(0, "x"), core.ToolCallEnd(0, "x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(1)
			var err *core.Error
			for _, c := range tt.chunks {
				if _, _, err = a.apply(c); err != nil {
					break
				}
			}
			require.NotNil(t, err)
			assert.Equal(t, core.ErrStreaming, err.Kind)
		})
	}
}

func TestAssembler_IgnoresNonPartChunks(t *testing.T) {
	a := newAssembler(1)
	evs, rec, err := a.apply(core.UsageChunk(core.Usage{InputTokens: 1}))
	assert.Nil(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, evs)
	assert.Empty(t, a.message().Parts)
}
