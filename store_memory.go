package auth

import "sync"

var _ VersionedStore = (*MemoryStore)(nil)

// MemoryStore is an in-process VersionedStore. Every Set bumps the key version.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]any
	versions map[string]uint64
}

// NewMemoryStore returns an empty store, optionally seeded
func NewMemoryStore(seed map[string]any) *MemoryStore {
	s := &MemoryStore{
		values:   make(map[string]any, len(seed)),
		versions: make(map[string]uint64, len(seed)),
	}
	for k, v := range seed {
		s.values[k] = v
		s.versions[k] = 1
	}
	return s
}

func (s *MemoryStore) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value)
}

func (s *MemoryStore) Version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[key]
}

func (s *MemoryStore) CompareAndSet(key string, value any, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[key] != version {
		return false
	}
	s.setLocked(key, value)
	return true
}

func (s *MemoryStore) setLocked(key string, value any) {
	if value == nil {
		// keep typed nils out so Get callers can compare against nil
		delete(s.values, key)
	} else {
		s.values[key] = value
	}
	s.versions[key]++
}
