package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

// ScoreAggregator folds finalized session results into the per-quiz,
// per-group and global leaderboards. It is idempotent per session and
// serializes merges touching the same leaderboard key.
type ScoreAggregator struct {
	store LeaderboardStore
	log   *logrus.Entry

	// striped locks keyed by (scope, subject, participant)
	locks [64]sync.Mutex
}

func NewScoreAggregator(store LeaderboardStore, log *logrus.Entry) *ScoreAggregator {
	return &ScoreAggregator{store: store, log: log}
}

// RecordSessionResult applies one finalized session to the leaderboards.
// A repeated call for the same sessionID returns ErrAlreadyRecorded and
// changes nothing; callers treat that as success. Participants who
// answered nothing contribute no delta.
func (a *ScoreAggregator) RecordSessionResult(ctx context.Context, sessionID string, chatID int64, quizID string, results []domain.ParticipantResult) error {
	fresh, err := a.store.BeginSessionRecord(ctx, sessionID, chatID, quizID)
	if err != nil {
		return fmt.Errorf("begin session record: %w", err)
	}
	if !fresh {
		return domain.ErrAlreadyRecorded
	}

	group := fmt.Sprintf("%d", chatID)
	for _, res := range results {
		if res.Answered == 0 {
			continue
		}
		delta := domain.LeaderboardDelta{
			DisplayName:   res.DisplayName,
			Correct:       res.Correct,
			QuizzesPlayed: 1,
		}
		if err := a.merge(ctx, domain.ScopeQuiz, quizID, res.ParticipantID, delta); err != nil {
			return err
		}
		if err := a.merge(ctx, domain.ScopeGroup, group, res.ParticipantID, delta); err != nil {
			return err
		}
		if err := a.merge(ctx, domain.ScopeGlobal, domain.GlobalSubject, res.ParticipantID, delta); err != nil {
			return err
		}
	}
	a.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"quiz_id":    quizID,
		"chat_id":    chatID,
		"players":    len(results),
	}).Info("session results recorded")
	return nil
}

func (a *ScoreAggregator) merge(ctx context.Context, scope domain.LeaderboardScope, subjectID string, participantID int64, delta domain.LeaderboardDelta) error {
	lock := a.lockFor(scope, subjectID, participantID)
	lock.Lock()
	defer lock.Unlock()

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = a.store.MergeLeaderboard(ctx, scope, subjectID, participantID, delta); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("merge %s/%s leaderboard: %w", scope, subjectID, err)
}

func (a *ScoreAggregator) lockFor(scope domain.LeaderboardScope, subjectID string, participantID int64) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%d", scope, subjectID, participantID)
	return &a.locks[h.Sum32()%uint32(len(a.locks))]
}
