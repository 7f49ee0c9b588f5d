package core

import (
	"sync"
)

// TurnLimiter enforces a maximum number of model requests per run.
type TurnLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewTurnLimiter creates a new limiter with a max number of requests.
// If max == 0, unlimited requests are allowed.
func NewTurnLimiter(max int) *TurnLimiter {
	return &TurnLimiter{max: max}
}

// Increment reserves one request. It returns an ErrMaxTurnsExceeded error,
// without consuming the slot, once the ceiling has been reached.
func (tl *TurnLimiter) Increment() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max > 0 && tl.count >= tl.max {
		return NewError(ErrMaxTurnsExceeded, "exceeded max turns: %d", tl.max)
	}

	tl.count++

	return nil
}

// Count returns the current number of requests made.
func (tl *TurnLimiter) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	return tl.count
}

// Remaining returns how many requests are left before hitting the limit.
func (tl *TurnLimiter) Remaining() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max == 0 {
		return -1 // unlimited
	}

	return tl.max - tl.count
}
