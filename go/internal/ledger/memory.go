package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps participant balances in process memory. All operations
// run under a single mutex, so each call is atomic.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]Bundle
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]Bundle),
	}
}

// Seed replaces a participant's balances. Intended for session setup and
// tests.
func (s *MemoryStore) Seed(participantID string, b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[participantID] = cloneBundle(b)
}

// Transfer moves delta from one participant to another. The pool side is
// unbounded; a participant source must cover the full delta or the transfer
// fails without side effects.
func (s *MemoryStore) Transfer(ctx context.Context, fromID, toID string, delta Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(fromID, toID, delta)
}

// ExecuteTrade applies both legs of an accepted trade under one lock: the
// offered bundle moves proposer -> pool and the wanted bundle pool ->
// proposer, or neither moves.
func (s *MemoryStore) ExecuteTrade(ctx context.Context, proposerID, offer, want string) error {
	give, err := ParseBundle(offer)
	if err != nil {
		return err
	}
	get, err := ParseBundle(want)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transferLocked(proposerID, PoolID, give); err != nil {
		return err
	}
	// Pool -> participant cannot fail, so the trade is already safe.
	return s.transferLocked(PoolID, proposerID, get)
}

// Adjust applies delta to a participant's balance, clamping each resource at
// zero rather than rejecting negative results.
func (s *MemoryStore) Adjust(ctx context.Context, participantID string, delta Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balanceLocked(participantID)
	for res, n := range delta {
		bal[res] += n
		if bal[res] < 0 {
			bal[res] = 0
		}
	}
	return nil
}

// Balances returns a copy of the participant's current balances.
func (s *MemoryStore) Balances(ctx context.Context, participantID string) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBundle(s.balances[participantID]), nil
}

// Participants returns the ids of all participants with seeded or accrued
// balances.
func (s *MemoryStore) Participants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.balances))
	for id := range s.balances {
		if id != PoolID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) transferLocked(fromID, toID string, delta Bundle) error {
	if fromID != PoolID {
		bal := s.balanceLocked(fromID)
		for res, n := range delta {
			if bal[res] < n {
				return fmt.Errorf("%w: %s needs %d %s", ErrInsufficientResources, fromID, n, res)
			}
		}
		for res, n := range delta {
			bal[res] -= n
		}
	}
	if toID != PoolID {
		bal := s.balanceLocked(toID)
		for res, n := range delta {
			bal[res] += n
		}
	}
	return nil
}

func (s *MemoryStore) balanceLocked(participantID string) Bundle {
	bal, ok := s.balances[participantID]
	if !ok {
		bal = make(Bundle)
		s.balances[participantID] = bal
	}
	return bal
}

func cloneBundle(b Bundle) Bundle {
	out := make(Bundle, len(b))
	for res, n := range b {
		out[res] = n
	}
	return out
}
