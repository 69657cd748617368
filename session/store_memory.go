package session

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*Data
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Data)}
}

func (s *MemoryStore) Load(_ context.Context, name string) (*Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	d, ok := s.data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, name string, data *Data) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data[name] = data.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data, name)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	names := make([]string, 0, len(s.data))
	for n := range s.data {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
