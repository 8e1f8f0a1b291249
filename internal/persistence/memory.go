package persistence

import (
	"context"
	"sync"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
)

// MemoryStore keeps the event log in memory. Used in tests and local
// development where no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []event.Event
	tail   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tail != nil {
		return s.tail
	}
	if err := e.Validate(); err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) LoadAll(context.Context) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *MemoryStore) Iterate(_ context.Context, skip, limit uint64) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if skip >= uint64(len(s.events)) {
		return nil, nil
	}
	page := s.events[skip:]
	if limit < uint64(len(page)) {
		page = page[:limit]
	}
	out := make([]event.Event, len(page))
	copy(out, page)
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events)), nil
}

// FailAppends makes every subsequent Append return err. Test helper.
func (s *MemoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = err
}
