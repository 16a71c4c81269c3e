package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/engine"
	"github.com/suryapaul01/quizplay-robot/internal/infra/memory"
	"github.com/suryapaul01/quizplay-robot/internal/metrics"
)

const chatID = int64(42)

func TestQuizRunsToCompletion(t *testing.T) {
	env := newEnv(t, sampleQuizzes(), engine.Settings{JoinCountdown: 30 * time.Second})
	ctx := context.Background()

	if _, err := env.eng.StartQuiz(ctx, chatID, "quiz-1", 1); err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	env.waitMessage(t, "join now")

	if err := env.eng.Join(chatID, 101, "Alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := env.eng.Join(chatID, 102, "Bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	env.sched.fireLatest()
	env.waitMessage(t, "2 players joined")

	// question 1: both answer correctly, fast path advances before the
	// window fires
	poll1 := env.waitPoll(t)
	env.waitPollBound(t, poll1.ref)
	env.answer(poll1.ref, 101, "Alice", 0, 2*time.Second)
	env.answer(poll1.ref, 102, "Bob", 0, 3*time.Second)

	poll2 := env.waitPoll(t)
	if poll2.ref == poll1.ref {
		t.Fatalf("expected a fresh poll for question 2")
	}
	env.waitPollBound(t, poll2.ref)
	env.answer(poll2.ref, 101, "Alice", 1, 2*time.Second)
	env.answer(poll2.ref, 102, "Bob", 0, 4*time.Second) // wrong

	summary := env.waitMessage(t, "Quiz complete")
	if !strings.Contains(summary, "🥇 Alice — 26 pts (2/2)") {
		t.Fatalf("expected alice leading the summary, got:\n%s", summary)
	}
	if !strings.Contains(summary, "🥈 Bob — 10 pts (1/2)") {
		t.Fatalf("expected bob second in the summary, got:\n%s", summary)
	}

	env.waitIdle(t)

	assertBoard(t, env.boards, domain.ScopeQuiz, "quiz-1", 101, 2, 1)
	assertBoard(t, env.boards, domain.ScopeQuiz, "quiz-1", 102, 1, 1)
	assertBoard(t, env.boards, domain.ScopeGroup, "42", 101, 2, 1)
	assertBoard(t, env.boards, domain.ScopeGlobal, domain.GlobalSubject, 101, 2, 1)
	assertBoard(t, env.boards, domain.ScopeGlobal, domain.GlobalSubject, 102, 1, 1)

	if _, ok := env.sessions.Get(chatID); ok {
		t.Fatalf("expected session snapshot to be archived after completion")
	}
	if len(env.transport.closedPolls()) != 2 {
		t.Fatalf("expected both polls closed, got %v", env.transport.closedPolls())
	}
}

func TestSecondStartRejected(t *testing.T) {
	env := newEnv(t, sampleQuizzes(), engine.Settings{})
	ctx := context.Background()

	if _, err := env.eng.StartQuiz(ctx, chatID, "quiz-1", 1); err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	if _, err := env.eng.StartQuiz(ctx, chatID, "quiz-1", 2); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	// a different chat is unaffected
	if _, err := env.eng.StartQuiz(ctx, chatID+1, "quiz-1", 2); err != nil {
		t.Fatalf("start in other chat: %v", err)
	}
}

func TestStartUnknownQuiz(t *testing.T) {
	env := newEnv(t, sampleQuizzes(), engine.Settings{})

	_, err := env.eng.StartQuiz(context.Background(), chatID, "no-such-quiz", 1)
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if env.eng.ActiveSessions() != 0 {
		t.Fatalf("failed start must not leave a session behind")
	}
}

func TestStartEmptyQuiz(t *testing.T) {
	quizzes := sampleQuizzes()
	quizzes["empty"] = domain.Quiz{ID: "empty", Title: "Empty"}
	env := newEnv(t, quizzes, engine.Settings{})

	_, err := env.eng.StartQuiz(context.Background(), chatID, "empty", 1)
	if !errors.Is(err, domain.ErrEmptyQuiz) {
		t.Fatalf("expected ErrEmptyQuiz, got %v", err)
	}
}

func TestStatusNoSession(t *testing.T) {
	env := newEnv(t, sampleQuizzes(), engine.Settings{})

	if _, err := env.eng.Status(chatID); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := env.eng.StopQuiz(context.Background(), chatID, 1, false); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession on stop, got %v", err)
	}
}

// --- test doubles and fixtures ---

type postedPoll struct {
	ref    string
	chatID int64
	q      domain.Question
}

// fakeTransport records everything the engine posts and hands polls and
// messages to the test over channels.
type fakeTransport struct {
	mu        sync.Mutex
	seq       int
	failPolls bool
	closed    []string

	pollCh chan postedPoll
	msgCh  chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pollCh: make(chan postedPoll, 16),
		msgCh:  make(chan string, 64),
	}
}

func (f *fakeTransport) PostTimedPoll(_ context.Context, chatID int64, q domain.Question) (string, error) {
	f.mu.Lock()
	if f.failPolls {
		f.mu.Unlock()
		return "", errors.New("connector down")
	}
	f.seq++
	ref := fmt.Sprintf("poll-%d", f.seq)
	f.mu.Unlock()
	f.pollCh <- postedPoll{ref: ref, chatID: chatID, q: q}
	return ref, nil
}

func (f *fakeTransport) ClosePoll(_ context.Context, pollRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, pollRef)
	return nil
}

func (f *fakeTransport) PostMessage(_ context.Context, _ int64, text string) error {
	f.msgCh <- text
	return nil
}

func (f *fakeTransport) closedPolls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closed))
	copy(out, f.closed)
	return out
}

func (f *fakeTransport) setFailPolls(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPolls = fail
}

type scheduledWake struct {
	delay    time.Duration
	fn       func()
	canceled bool
}

// manualScheduler records wake-ups and fires them only when the test says
// so, making every timer-driven transition deterministic.
type manualScheduler struct {
	mu    sync.Mutex
	wakes []*scheduledWake
}

func (s *manualScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &scheduledWake{delay: d, fn: fn}
	s.wakes = append(s.wakes, w)
	return func() {
		s.mu.Lock()
		w.canceled = true
		s.mu.Unlock()
	}
}

// fireLatest runs the most recent wake-up that was not canceled.
func (s *manualScheduler) fireLatest() {
	s.mu.Lock()
	var fn func()
	for i := len(s.wakes) - 1; i >= 0; i-- {
		if !s.wakes[i].canceled {
			fn = s.wakes[i].fn
			break
		}
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fire runs wake-up i even if it was canceled, the way a runtime timer
// that already fired before Stop would.
func (s *manualScheduler) fire(i int) {
	s.mu.Lock()
	fn := s.wakes[i].fn
	s.mu.Unlock()
	fn()
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wakes)
}

type testEnv struct {
	eng       *engine.Engine
	transport *fakeTransport
	sched     *manualScheduler
	sessions  *memory.SessionStore
	boards    *memory.LeaderboardStore
	base      time.Time
}

func newEnv(t *testing.T, quizzes map[string]domain.Quiz, settings engine.Settings) *testEnv {
	t.Helper()
	if settings.RetryBackoff == 0 {
		settings.RetryBackoff = time.Millisecond
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &testEnv{
		transport: newFakeTransport(),
		sched:     &manualScheduler{},
		sessions:  memory.NewSessionStore(),
		boards:    memory.NewLeaderboardStore(),
		base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.eng = engine.New(engine.Params{
		Quizzes:      memory.NewQuizRepository(memory.NewStaticQuizLoader(quizzes), time.Minute),
		Sessions:     env.sessions,
		Leaderboards: env.boards,
		Transport:    env.transport,
		Scheduler:    env.sched,
		Metrics:      metrics.New(prometheus.NewRegistry()),
		Logger:       log,
		Settings:     settings,
		Now:          func() time.Time { return env.base },
	})
	t.Cleanup(env.eng.Close)
	return env
}

func (e *testEnv) waitPoll(t *testing.T) postedPoll {
	t.Helper()
	select {
	case p := <-e.transport.pollCh:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a poll to be posted")
		return postedPoll{}
	}
}

func (e *testEnv) waitMessage(t *testing.T, contains string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-e.transport.msgCh:
			if strings.Contains(msg, contains) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message containing %q", contains)
			return ""
		}
	}
}

// waitPollBound blocks until the session reports ref as its open poll,
// which guarantees the answer route is registered.
func (e *testEnv) waitPollBound(t *testing.T, ref string) {
	t.Helper()
	waitUntil(t, func() bool {
		snap, err := e.eng.Status(chatID)
		return err == nil && snap.CurrentPollRef == ref
	}, "poll never bound: "+ref)
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	waitUntil(t, func() bool {
		_, err := e.eng.Status(chatID)
		return errors.Is(err, domain.ErrNoSession)
	}, "session never reached a terminal state")
}

func (e *testEnv) answer(ref string, userID int64, name string, option int, latency time.Duration) {
	e.eng.HandlePollAnswer(domain.PollAnswerEvent{
		PollRef:       ref,
		ParticipantID: userID,
		DisplayName:   name,
		Option:        option,
		At:            e.base.Add(latency),
	})
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

func assertBoard(t *testing.T, boards *memory.LeaderboardStore, scope domain.LeaderboardScope, subject string, participant int64, score, played int) {
	t.Helper()
	entry, ok := boards.Entry(scope, subject, participant)
	if !ok {
		t.Fatalf("no %s/%s entry for participant %d", scope, subject, participant)
	}
	if entry.Score != score || entry.QuizzesPlayed != played {
		t.Fatalf("%s/%s participant %d: expected score=%d played=%d, got %+v", scope, subject, participant, score, played, entry)
	}
}

// sampleQuizzes holds a two-question quiz with a 10 second window each
// and speed bonus scoring on.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:         "quiz-1",
			Title:      "General Knowledge",
			SpeedBonus: true,
			Questions: []domain.Question{
				{
					ID:           "q1",
					Prompt:       "What is 2 + 2?",
					Options:      []string{"4", "5", "6"},
					CorrectIndex: 0,
					TimeLimit:    10 * time.Second,
				},
				{
					ID:           "q2",
					Prompt:       "Capital of France?",
					Options:      []string{"Lyon", "Paris", "Nice"},
					CorrectIndex: 1,
					TimeLimit:    10 * time.Second,
				},
			},
		},
	}
}
