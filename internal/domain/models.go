package domain

import "time"

// SessionStatus tracks where a quiz session is in its lifecycle.
type SessionStatus string

const (
	// StatusLobby is the join countdown before the first question opens.
	StatusLobby SessionStatus = "lobby"
	// StatusRunning means a question poll is open and accepting answers.
	StatusRunning SessionStatus = "running"
	// StatusGrading means the current question closed and the session is
	// deciding whether to advance or finalize.
	StatusGrading SessionStatus = "grading"
	// StatusFinalizing means results were computed but leaderboard
	// aggregation has not been confirmed yet.
	StatusFinalizing SessionStatus = "finalizing"
	// StatusCompleted is the terminal state of a quiz that ran to the end.
	StatusCompleted SessionStatus = "completed"
	// StatusAborted is the terminal state of a stopped or failed quiz.
	StatusAborted SessionStatus = "aborted"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID           string        `json:"id"`
	Prompt       string        `json:"prompt"`
	Options      []string      `json:"options"`
	CorrectIndex int           `json:"correctIndex"`
	TimeLimit    time.Duration `json:"timeLimit"` // answer window per question
}

// Quiz is an ordered, immutable set of questions. A session holds a
// snapshot of it for its whole run.
type Quiz struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Questions  []Question `json:"questions"`
	SpeedBonus bool       `json:"speedBonus"` // extra points for fast answers (display scoring)
}

// Answer is one participant's recorded vote on one question.
type Answer struct {
	Option     int       `json:"option"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// SessionSnapshot is the durable record of a session's progress. It is
// written after every mutation and read back for restart recovery.
type SessionSnapshot struct {
	SessionID        string                   `json:"sessionId"`
	ChatID           int64                    `json:"chatId"`
	QuizID           string                   `json:"quizId"`
	StartedBy        int64                    `json:"startedBy"`
	Status           SessionStatus            `json:"status"`
	CurrentQuestion  int                      `json:"currentQuestion"`
	QuestionOpenedAt map[int]time.Time        `json:"questionOpenedAt"` // open timestamp per question index
	CurrentPollRef   string                   `json:"currentPollRef"`
	Participants     map[int64]string         `json:"participants"` // joined users by display name
	Answers          map[int64]map[int]Answer `json:"answers"`      // participant -> question index -> answer
	StartedAt        time.Time                `json:"startedAt"`
}

// ParticipantResult is derived at finalization from the recorded answers.
type ParticipantResult struct {
	ParticipantID int64         `json:"participantId"`
	DisplayName   string        `json:"displayName"`
	Correct       int           `json:"correct"`
	Answered      int           `json:"answered"`
	Points        int           `json:"points"`
	AvgLatency    time.Duration `json:"avgLatency"`
}

// LeaderboardScope selects which aggregate a merge applies to.
type LeaderboardScope string

const (
	ScopeQuiz   LeaderboardScope = "quiz"
	ScopeGroup  LeaderboardScope = "group"
	ScopeGlobal LeaderboardScope = "global"
)

// GlobalSubject is the single subject id used for the global scope.
const GlobalSubject = "global"

// LeaderboardDelta is one participant's contribution from a finalized
// session. Merging is additive and keyed by (scope, subject, participant).
type LeaderboardDelta struct {
	DisplayName   string `json:"displayName"`
	Correct       int    `json:"correct"`
	QuizzesPlayed int    `json:"quizzesPlayed"`
}

// LeaderboardEntry is a stored aggregate row.
type LeaderboardEntry struct {
	Scope         LeaderboardScope `json:"scope"`
	SubjectID     string           `json:"subjectId"`
	ParticipantID int64            `json:"participantId"`
	DisplayName   string           `json:"displayName"`
	Score         int              `json:"score"`
	QuizzesPlayed int              `json:"quizzesPlayed"`
}

// PollAnswerEvent is the inbound "participant voted" signal from the chat
// transport. PollRef identifies the poll the transport posted earlier.
type PollAnswerEvent struct {
	PollRef       string    `json:"pollRef"`
	ParticipantID int64     `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Option        int       `json:"option"`
	At            time.Time `json:"at"`
}
