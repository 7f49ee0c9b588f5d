package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/hupe1980/agentstream/core"
)

// ErrNotFound is returned when a stored memory does not exist.
var ErrNotFound = errors.New("memory not found")

// SearchResult is a stored memory together with its relevance score.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// StoredMemory is the internal representation persisted by InMemoryStore.
type StoredMemory struct {
	ID       string
	Content  string
	Metadata map[string]any
	seq      int
}

// Options configures an InMemoryStore.
type Options struct {
	// RecallLimit caps the stored memories rendered by Recall.
	RecallLimit int
	// Header precedes the recalled block.
	Header string
}

var _ core.MemoryProvider = (*InMemoryStore)(nil)

// InMemoryStore is a process-local memory backend offering:
//  1. Pinned facts (Put / Get), always recalled
//  2. Stored memories with keyword Search, recalled when relevant
//
// Search scores a memory by the fraction of query terms it contains. This is
// adequate for tests and small agents; plug a semantic index behind
// core.MemoryProvider for production retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	facts   map[string]any
	storage map[string]StoredMemory
	seq     int
	opts    Options
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		RecallLimit: 5,
		Header:      "Relevant memories:",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		facts:   make(map[string]any),
		storage: make(map[string]StoredMemory),
		opts:    opts,
	}
}

// Get returns a shallow copy of the pinned facts.
func (m *InMemoryStore) Get() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]any, len(m.facts))
	for k, v := range m.facts {
		result[k] = v
	}
	return result
}

// Put merges delta into the pinned facts. A nil value removes the key.
func (m *InMemoryStore) Put(delta map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range delta {
		if v == nil {
			delete(m.facts, k)
			continue
		}
		m.facts[k] = v
	}
}

// Store adds a memory and returns its id.
func (m *InMemoryStore) Store(_ context.Context, content string, metadata map[string]any) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("memory content is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.seq++
	m.storage[id] = StoredMemory{ID: id, Content: content, Metadata: copyMap(metadata), seq: m.seq}
	return id, nil
}

// Search returns up to limit memories sharing at least one term with query,
// best match first; ties keep insertion order. An empty query matches every
// memory with score 1. A limit of zero or less means no limit.
func (m *InMemoryStore) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	terms := tokenize(query)

	m.mu.RLock()
	type hit struct {
		mem   StoredMemory
		score float64
	}
	hits := make([]hit, 0, len(m.storage))
	for _, stored := range m.storage {
		score := 1.0
		if len(terms) > 0 {
			score = overlap(terms, tokenize(stored.Content))
		}
		if score > 0 {
			hits = append(hits, hit{mem: stored, score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].mem.seq < hits[j].mem.seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{ID: h.mem.ID, Content: h.mem.Content, Score: h.score, Metadata: copyMap(h.mem.Metadata)})
	}
	return results, nil
}

// Delete removes a stored memory by id.
func (m *InMemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.storage[id]; !exists {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.storage, id)
	return nil
}

// Len returns the number of stored memories.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.storage)
}

// Recall implements core.MemoryProvider. It renders the pinned facts sorted
// by key followed by the memories matching query. With nothing to recall
// it returns the empty string.
func (m *InMemoryStore) Recall(ctx context.Context, query string) (string, error) {
	var lines []string

	facts := m.Get()
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, facts[k]))
	}

	if strings.TrimSpace(query) != "" {
		results, err := m.Search(ctx, query, m.opts.RecallLimit)
		if err != nil {
			return "", err
		}
		for _, r := range results {
			lines = append(lines, "- "+r.Content)
		}
	}

	if len(lines) == 0 {
		return "", nil
	}
	if m.opts.Header != "" {
		lines = append([]string{m.opts.Header}, lines...)
	}
	return strings.Join(lines, "\n"), nil
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			out[f] = struct{}{}
		}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
