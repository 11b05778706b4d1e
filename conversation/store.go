package conversation

import (
	"sync"

	"voiceloop/core"
)

// Store is the bounded, ordered record of past exchanges. Append-only during
// a session; Clear empties it atomically. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	exchanges []core.Exchange
}

func NewStore() *Store {
	return &Store{}
}

// Append adds an exchange to the tail. Never blocks, never fails.
func (s *Store) Append(e core.Exchange) {
	s.mu.Lock()
	s.exchanges = append(s.exchanges, e)
	s.mu.Unlock()
}

// PromptWindow returns the last PromptWindowSize exchanges, oldest first.
func (s *Store) PromptWindow() []core.Exchange {
	return s.tail(core.PromptWindowSize)
}

// DisplayWindow returns the last DisplayWindowSize exchanges, oldest first.
func (s *Store) DisplayWindow() []core.Exchange {
	return s.tail(core.DisplayWindowSize)
}

// Len returns the number of exchanges recorded so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exchanges)
}

// Clear atomically empties the store. No partial-clear state is observable.
func (s *Store) Clear() {
	s.mu.Lock()
	s.exchanges = nil
	s.mu.Unlock()
}

// tail copies the last n exchanges so callers never alias internal state.
func (s *Store) tail(n int) []core.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.exchanges) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.Exchange, len(s.exchanges)-start)
	copy(out, s.exchanges[start:])
	return out
}
