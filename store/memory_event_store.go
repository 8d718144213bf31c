package store

import (
	"context"
	"sync"
	"time"

	"voiceonboard/api/models"
)

// MemoryEventStore is an in-process event store for local runs and tests.
// Contents are lost on restart.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []models.StepEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) InsertStepEvents(_ context.Context, events []models.StepEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryEventStore) DistinctSessions(ctx context.Context, step string, since time.Time) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ev := range s.events {
		if ev.Step != step || ev.Timestamp.Before(since) {
			continue
		}
		seen[ev.SessionID] = struct{}{}
	}
	return uint64(len(seen)), nil
}

func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
