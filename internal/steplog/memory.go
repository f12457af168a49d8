package steplog

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process
// development runs. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	steps map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: make(map[string][]byte)}
}

func (s *MemoryStore) key(correlationID, stepName string) string {
	return correlationID + "\x00" + stepName
}

// Get returns the recorded outcome, or (nil, nil) when absent.
func (s *MemoryStore) Get(_ context.Context, correlationID, stepName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.steps[s.key(correlationID, stepName)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Save records an outcome. Re-saving the same step overwrites, which keeps
// the operation idempotent under retries.
func (s *MemoryStore) Save(_ context.Context, correlationID, stepName string, outcome []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[s.key(correlationID, stepName)] = append([]byte(nil), outcome...)
	return nil
}
