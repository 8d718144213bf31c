package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voiceonboard/api/models"
)

// MemoryProfileStore is the in-process counterpart of ProfileStore.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	now      func() time.Time
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]models.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryProfileStore) UpsertProfile(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = s.now()
	stored := *p
	stored.Answers = append([]byte(nil), p.Answers...)
	s.profiles[p.UserID] = stored
	return nil
}

func (s *MemoryProfileStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrProfileNotFound)
	}
	return &p, nil
}

func (s *MemoryProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
