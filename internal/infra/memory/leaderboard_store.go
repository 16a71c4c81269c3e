package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

type boardKey struct {
	scope         domain.LeaderboardScope
	subjectID     string
	participantID int64
}

// LeaderboardStore keeps leaderboard aggregates and session idempotency
// marks in process memory.
type LeaderboardStore struct {
	mu       sync.Mutex
	recorded map[string]struct{}
	entries  map[boardKey]domain.LeaderboardEntry
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{
		recorded: make(map[string]struct{}),
		entries:  make(map[boardKey]domain.LeaderboardEntry),
	}
}

func (s *LeaderboardStore) BeginSessionRecord(_ context.Context, sessionID string, _ int64, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recorded[sessionID]; ok {
		return false, nil
	}
	s.recorded[sessionID] = struct{}{}
	return true, nil
}

func (s *LeaderboardStore) MergeLeaderboard(_ context.Context, scope domain.LeaderboardScope, subjectID string, participantID int64, delta domain.LeaderboardDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := boardKey{scope: scope, subjectID: subjectID, participantID: participantID}
	entry, ok := s.entries[key]
	if !ok {
		entry = domain.LeaderboardEntry{Scope: scope, SubjectID: subjectID, ParticipantID: participantID}
	}
	if delta.DisplayName != "" {
		entry.DisplayName = delta.DisplayName
	}
	entry.Score += delta.Correct
	entry.QuizzesPlayed += delta.QuizzesPlayed
	s.entries[key] = entry
	return nil
}

// Entry returns one aggregate row, mostly for tests.
func (s *LeaderboardStore) Entry(scope domain.LeaderboardScope, subjectID string, participantID int64) (domain.LeaderboardEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[boardKey{scope: scope, subjectID: subjectID, participantID: participantID}]
	return entry, ok
}

// Top returns the highest-scoring rows for a scope subject.
func (s *LeaderboardStore) Top(scope domain.LeaderboardScope, subjectID string, limit int) []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LeaderboardEntry, 0)
	for key, entry := range s.entries {
		if key.scope == scope && key.subjectID == subjectID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
