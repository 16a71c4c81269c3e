package memory

import (
	"context"
	"sync"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

// SessionStore keeps session snapshots in process memory. It backs tests
// and the redis-less dev mode; restarts obviously lose it.
type SessionStore struct {
	mu        sync.RWMutex
	snapshots map[int64]domain.SessionSnapshot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{snapshots: make(map[int64]domain.SessionSnapshot)}
}

func (s *SessionStore) Save(_ context.Context, snap domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ChatID] = snap
	return nil
}

func (s *SessionStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, chatID)
	return nil
}

func (s *SessionStore) LoadIncomplete(_ context.Context) ([]domain.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Get is a test helper to inspect a persisted snapshot.
func (s *SessionStore) Get(chatID int64) (domain.SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[chatID]
	return snap, ok
}
