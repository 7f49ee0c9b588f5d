package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// ErrNotFound is returned by Delete for unknown sessions.
var ErrNotFound = errors.New("session: not found")

var _ core.SessionStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile SessionStore keeping conversations in a
// process local map. It is safe for concurrent access. Histories are cloned
// on the way in and out.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]core.Message)}
}

// Load returns a copy of the stored history, empty for unknown sessions.
func (s *InMemoryStore) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CloneMessages(s.sessions[sessionID]), nil
}

// Save replaces the stored history.
func (s *InMemoryStore) Save(ctx context.Context, sessionID string, history []core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.New("session: empty session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = core.CloneMessages(history)
	return nil
}

// Delete removes the session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// List returns the stored session ids sorted.
func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
