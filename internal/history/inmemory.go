package history

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a simple in-process Store for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Message)}
}

func (s *InMemoryStore) Insert(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[msg.UserID], msg)
	sort.SliceStable(arr, func(i, j int) bool { return arr[i].Timestamp.Before(arr[j].Timestamp) })
	s.records[msg.UserID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, userID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
