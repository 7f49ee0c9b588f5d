package core

import "context"

// MemoryProvider supplies recalled text that is appended to the system
// prompt once per run. Storage and retrieval semantics are left to the
// implementation.
type MemoryProvider interface {
	Recall(ctx context.Context, query string) (string, error)
}

// MemoryProviderFunc adapts an ordinary function to MemoryProvider.
type MemoryProviderFunc func(ctx context.Context, query string) (string, error)

// Recall implements MemoryProvider.
func (f MemoryProviderFunc) Recall(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}
