package futures

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	pending Pending
	expires time.Time
}

// MemoryStore keeps pending invocations in process memory. Expired entries
// are evicted lazily on Lookup and on every Park call.
type MemoryStore struct {
	mutex   sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryStore creates a memory store whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) (*MemoryStore, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}, nil
}

// Park implements Store.
func (s *MemoryStore) Park(_ context.Context, p Pending) (string, error) {
	id := NewID()
	ts := now()
	if p.Created == 0 {
		p.Created = ts.UnixNano()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for entryID, entry := range s.entries {
		if !ts.Before(entry.expires) {
			delete(s.entries, entryID)
		}
	}
	s.entries[id] = memoryEntry{pending: p, expires: ts.Add(s.ttl)}
	return id, nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, id string) (Pending, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return Pending{}, ErrNotFound
	}
	if !now().Before(entry.expires) {
		delete(s.entries, id)
		return Pending{}, ErrNotFound
	}
	return entry.pending, nil
}

// Drop implements Store.
func (s *MemoryStore) Drop(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, id)
	return nil
}

// Len returns the number of stored entries, including expired entries that
// have not been evicted yet.
func (s *MemoryStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}
