package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

// LeaderboardStore keeps the durable leaderboard aggregates and the
// per-session idempotency marks. Merges are additive upserts, so two
// processes applying the same delta key concurrently still serialize on
// the row.
type LeaderboardStore struct {
	pool *pgxpool.Pool
}

func NewLeaderboardStore(pool *pgxpool.Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

// BeginSessionRecord inserts the session mark. A conflict means the
// session was already recorded and the caller must not merge again.
func (s *LeaderboardStore) BeginSessionRecord(ctx context.Context, sessionID string, chatID int64, quizID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO session_records (session_id, chat_id, quiz_id, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, chatID, quizID)
	if err != nil {
		return false, fmt.Errorf("insert session record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LeaderboardStore) MergeLeaderboard(ctx context.Context, scope domain.LeaderboardScope, subjectID string, participantID int64, delta domain.LeaderboardDelta) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaderboard_totals (scope, subject_id, participant_id, display_name, score, quizzes_played)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope, subject_id, participant_id) DO UPDATE SET
			display_name  = COALESCE(NULLIF(EXCLUDED.display_name, ''), leaderboard_totals.display_name),
			score         = leaderboard_totals.score + EXCLUDED.score,
			quizzes_played = leaderboard_totals.quizzes_played + EXCLUDED.quizzes_played`,
		scope, subjectID, participantID, delta.DisplayName, delta.Correct, delta.QuizzesPlayed)
	if err != nil {
		return fmt.Errorf("merge leaderboard: %w", err)
	}
	return nil
}

// Top returns the highest totals for one scope subject, for display
// surfaces outside the engine.
func (s *LeaderboardStore) Top(ctx context.Context, scope domain.LeaderboardScope, subjectID string, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scope, subject_id, participant_id, display_name, score, quizzes_played
		FROM leaderboard_totals
		WHERE scope=$1 AND subject_id=$2
		ORDER BY score DESC, participant_id
		LIMIT $3`,
		scope, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.Scope, &e.SubjectID, &e.ParticipantID, &e.DisplayName, &e.Score, &e.QuizzesPlayed); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
