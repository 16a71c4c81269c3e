package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

const (
	recordedKeyPrefix = "quiz:recorded:"
	boardKeyPrefix    = "quiz:board:"
)

// LeaderboardStore keeps leaderboard aggregates in redis hashes and the
// per-session idempotency marks as SETNX keys. It backs deployments that
// run redis without postgres.
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

// BeginSessionRecord marks the session via SETNX; a lost race means the
// session was already recorded.
func (s *LeaderboardStore) BeginSessionRecord(ctx context.Context, sessionID string, chatID int64, quizID string) (bool, error) {
	fresh, err := s.client.SetNX(ctx, recordedKeyPrefix+sessionID, fmt.Sprintf("%d:%s", chatID, quizID), 0).Result()
	if err != nil {
		return false, fmt.Errorf("mark session record: %w", err)
	}
	return fresh, nil
}

func (s *LeaderboardStore) MergeLeaderboard(ctx context.Context, scope domain.LeaderboardScope, subjectID string, participantID int64, delta domain.LeaderboardDelta) error {
	field := strconv.FormatInt(participantID, 10)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, s.key(scope, subjectID, "score"), field, int64(delta.Correct))
	pipe.HIncrBy(ctx, s.key(scope, subjectID, "played"), field, int64(delta.QuizzesPlayed))
	if delta.DisplayName != "" {
		pipe.HSet(ctx, s.key(scope, subjectID, "names"), field, delta.DisplayName)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("merge leaderboard: %w", err)
	}
	return nil
}

// Top returns the highest totals for one scope subject.
func (s *LeaderboardStore) Top(ctx context.Context, scope domain.LeaderboardScope, subjectID string, limit int) ([]domain.LeaderboardEntry, error) {
	scores, err := s.client.HGetAll(ctx, s.key(scope, subjectID, "score")).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}
	played, err := s.client.HGetAll(ctx, s.key(scope, subjectID, "played")).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard plays: %w", err)
	}
	names, err := s.client.HGetAll(ctx, s.key(scope, subjectID, "names")).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard names: %w", err)
	}

	out := make([]domain.LeaderboardEntry, 0, len(scores))
	for field, raw := range scores {
		participantID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		score, _ := strconv.Atoi(raw)
		plays, _ := strconv.Atoi(played[field])
		out = append(out, domain.LeaderboardEntry{
			Scope:         scope,
			SubjectID:     subjectID,
			ParticipantID: participantID,
			DisplayName:   names[field],
			Score:         score,
			QuizzesPlayed: plays,
		})
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
	return out, nil
}

func (s *LeaderboardStore) key(scope domain.LeaderboardScope, subjectID, kind string) string {
	return fmt.Sprintf("%s%s:%s:%s", boardKeyPrefix, scope, subjectID, kind)
}
