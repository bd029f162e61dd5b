package registry

import (
	"context"
	"sync"
	"time"

	"wakeline/pkg/models"
)

type memEntry struct {
	mu   sync.Mutex
	call models.PendingCall
	gone bool
}

// MemoryStore keeps calls in process memory. The map lock only guards the
// key set; each entry carries its own lock for read-modify-write.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) Create(_ context.Context, call models.PendingCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[call.CallUUID]; ok {
		return ErrExists
	}
	s.entries[call.CallUUID] = &memEntry{call: call}
	return nil
}

func (s *MemoryStore) entry(callUUID string) (*memEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[callUUID]
	return e, ok
}

func (s *MemoryStore) Get(_ context.Context, callUUID string) (models.PendingCall, error) {
	e, ok := s.entry(callUUID)
	if !ok {
		return models.PendingCall{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return models.PendingCall{}, ErrNotFound
	}
	return e.call, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.PendingCall, error) {
	s.mu.RLock()
	snapshot := make([]*memEntry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.RUnlock()

	out := make([]models.PendingCall, 0, len(snapshot))
	for _, e := range snapshot {
		e.mu.Lock()
		if !e.gone && e.call.Active() {
			out = append(out, e.call)
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, callUUID string, fn UpdateFunc) (models.PendingCall, error) {
	e, ok := s.entry(callUUID)
	if !ok {
		return models.PendingCall{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return models.PendingCall{}, ErrNotFound
	}

	next := e.call
	if err := fn(&next); err != nil {
		return e.call, err
	}
	e.call = next
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, callUUID string) error {
	s.mu.Lock()
	e, ok := s.entries[callUUID]
	delete(s.entries, callUUID)
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.gone = true
	e.mu.Unlock()
	return nil
}

// Prune drops resolved calls last touched before the cutoff.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		last := e.call.SentAt
		if e.call.AcknowledgedAt != nil && e.call.AcknowledgedAt.After(last) {
			last = *e.call.AcknowledgedAt
		}
		if !e.call.Active() && last.Before(before) {
			e.gone = true
			delete(s.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
