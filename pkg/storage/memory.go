package storage

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/HatiCode/vmpredict/pkg/models"
)

// MemoryStore keeps artifacts in process memory. It is safe for concurrent
// use and intended for tests and in-process training.
//
// Artifacts are stored encoded, so callers never share a *FittedModel with
// the store and GetLatest always returns an independent copy.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  []byte
	history map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]byte)}
}

// Put stores m as the latest artifact.
func (s *MemoryStore) Put(ctx context.Context, m *models.FittedModel) error {
	if m == nil {
		return errors.New("model cannot be nil")
	}
	if m.ID == "" {
		return errors.New("model id cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = buf.Bytes()
	s.history[m.ID] = s.latest
	return nil
}

// GetLatest returns a copy of the most recently stored artifact.
func (s *MemoryStore) GetLatest(ctx context.Context) (*models.FittedModel, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	data := s.latest
	s.mu.RUnlock()

	if data == nil {
		return nil, false, nil
	}
	m, err := models.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Len returns the number of distinct artifacts stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Clear forgets every artifact.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.history = make(map[string][]byte)
}
