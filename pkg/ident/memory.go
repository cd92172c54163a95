package ident

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Namespace and AbbrevStore. All operations
// are atomic under a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	ids     map[string]bool
	byName  map[string]string
	byCode  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:    make(map[string]bool),
		byName: make(map[string]string),
		byCode: make(map[string]string),
	}
}

// Reserve implements Namespace.
func (s *MemoryStore) Reserve(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false, nil
	}
	s.ids[id] = true
	return true, nil
}

// Release implements Namespace.
func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
	return nil
}

// List implements Namespace.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Lookup implements AbbrevStore.
func (s *MemoryStore) Lookup(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.byName[name]
	return code, ok, nil
}

// Commit implements AbbrevStore.
func (s *MemoryStore) Commit(_ context.Context, name, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byName[name]; ok {
		return existing, nil
	}
	if owner, ok := s.byCode[code]; ok && owner != name {
		return "", errCodeTaken
	}
	s.byName[name] = code
	s.byCode[code] = name
	return code, nil
}
