package credentials

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral
// sessions where nothing may touch disk.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
	saves int
	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

// NewMemoryStore creates an empty in-memory store, optionally seeded.
func NewMemoryStore(seed *Credentials) *MemoryStore {
	return &MemoryStore{creds: seed.Clone()}
}

func (s *MemoryStore) Load(_ context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.creds = creds.Clone()
	s.saves++
	return nil
}

// Saves returns how many successful Save calls the store has seen.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
