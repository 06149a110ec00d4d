package admission

import (
	"context"
	"sync"
)

// MemorySlotStore is an in-process SlotStore for tests and single-node
// deployments.
type MemorySlotStore struct {
	mu    sync.Mutex
	slots map[string]int
}

func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[string]int)}
}

func (s *MemorySlotStore) Acquire(_ context.Context, flowUID string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots[flowUID] >= limit {
		return false, nil
	}

	s.slots[flowUID]++

	return true, nil
}

func (s *MemorySlotStore) Release(_ context.Context, flowUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots[flowUID] > 0 {
		s.slots[flowUID]--
	}

	return nil
}

func (s *MemorySlotStore) Count(_ context.Context, flowUID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slots[flowUID], nil
}
