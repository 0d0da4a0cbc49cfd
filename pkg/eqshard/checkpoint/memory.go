package checkpoint

import (
	"fmt"
	"sync"

	"eqshard/pkg/eqshard/cluster"
)

// MemoryStore is an in-memory Store for tests. State does not survive the
// process, so it offers no real resumability.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func key(batchID string, coords cluster.Coordinates) string {
	return fmt.Sprintf("%s/%d", batchID, coords.GlobalIndex)
}

// Load implements Store.
func (s *MemoryStore) Load(batchID string, coords cluster.Coordinates) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return State{}, ErrStoreClosed
	}
	return s.states[key(batchID, coords)], nil
}

// Save implements Store.
func (s *MemoryStore) Save(batchID string, coords cluster.Coordinates, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	st.Version = Version
	s.states[key(batchID, coords)] = st
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
