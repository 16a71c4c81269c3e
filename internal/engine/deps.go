package engine

import (
	"context"
	"time"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

// Transport is the chat boundary the engine posts through. The concrete
// poll/message payloads belong to the transport implementation; the engine
// only sees opaque poll refs.
type Transport interface {
	// PostTimedPoll posts a question as a timed poll and returns a ref
	// used to route inbound answers and to close the poll.
	PostTimedPoll(ctx context.Context, chatID int64, q domain.Question) (string, error)
	ClosePoll(ctx context.Context, pollRef string) error
	PostMessage(ctx context.Context, chatID int64, text string) error
}

// QuizRepository loads quiz definitions (read-only to the engine).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionStore persists session progress so restarts neither lose nor
// double-count a running quiz.
type SessionStore interface {
	Save(ctx context.Context, snap domain.SessionSnapshot) error
	Delete(ctx context.Context, chatID int64) error
	// LoadIncomplete returns every snapshot in a non-terminal state,
	// used once at startup for recovery.
	LoadIncomplete(ctx context.Context) ([]domain.SessionSnapshot, error)
}

// LeaderboardStore owns the durable aggregates the ScoreAggregator merges
// into, plus the per-session idempotency marks.
type LeaderboardStore interface {
	// BeginSessionRecord marks sessionID as recorded. It returns false
	// when the mark already existed, which short-circuits re-aggregation.
	BeginSessionRecord(ctx context.Context, sessionID string, chatID int64, quizID string) (bool, error)
	MergeLeaderboard(ctx context.Context, scope domain.LeaderboardScope, subjectID string, participantID int64, delta domain.LeaderboardDelta) error
}

// Settings tunes session behavior. Zero values get sane defaults.
type Settings struct {
	// JoinCountdown is the lobby length before question 0 opens.
	// Zero skips the lobby and opens question 0 on creation.
	JoinCountdown time.Duration
	// MaxPostRetries bounds transport retries before a session aborts
	// with a delivery failure.
	MaxPostRetries int
	// RetryBackoff is the base backoff between retries (doubled each try).
	RetryBackoff time.Duration
	// StandingsEvery posts intermediate standings after every N questions.
	// Zero disables them.
	StandingsEvery int
	// DefaultWindow fills in the answer window for questions whose
	// definition does not carry one.
	DefaultWindow time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxPostRetries <= 0 {
		s.MaxPostRetries = 3
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = 500 * time.Millisecond
	}
	if s.DefaultWindow <= 0 {
		s.DefaultWindow = 20 * time.Second
	}
	return s
}
