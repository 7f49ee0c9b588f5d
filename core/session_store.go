package core

import "context"

// SessionStore persists committed conversations by session id so several
// agents, or several processes, can continue the same conversation. Load of
// an unknown session returns an empty history.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) ([]Message, error)
	Save(ctx context.Context, sessionID string, history []Message) error
}
