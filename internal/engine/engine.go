package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/metrics"
)

// Engine is the quiz session engine: it arbitrates one live session per
// chat, routes inbound poll answers to their owning session and recovers
// in-flight sessions after a restart.
type Engine struct {
	quizzes   QuizRepository
	store     SessionStore
	transport Transport
	sched     Scheduler
	agg       *ScoreAggregator
	registry  *Registry
	met       *metrics.Metrics
	log       *logrus.Logger
	cfg       Settings
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Params collects the engine's collaborators. Transport and the stores
// are consumed interfaces; their implementations live in infra/transport.
type Params struct {
	Quizzes      QuizRepository
	Sessions     SessionStore
	Leaderboards LeaderboardStore
	Transport    Transport
	Scheduler    Scheduler
	Metrics      *metrics.Metrics
	Logger       *logrus.Logger
	Settings     Settings
	Now          func() time.Time
}

func New(p Params) *Engine {
	if p.Scheduler == nil {
		p.Scheduler = TimerScheduler{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		quizzes:   p.Quizzes,
		store:     p.Sessions,
		transport: p.Transport,
		sched:     p.Scheduler,
		agg:       NewScoreAggregator(p.Leaderboards, p.Logger.WithField("component", "aggregator")),
		registry:  NewRegistry(),
		met:       p.Metrics,
		log:       p.Logger,
		cfg:       p.Settings.withDefaults(),
		now:       p.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops background work. Session snapshots stay persisted, so a
// later Recover picks up where the process left off.
func (e *Engine) Close() {
	e.cancel()
}

// StartQuiz validates the quiz and creates the single live session for
// the chat. Validation failures never leave engine state behind.
func (e *Engine) StartQuiz(ctx context.Context, chatID int64, quizID string, initiatorID int64) (string, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return "", err
	}
	quiz = e.applyWindowDefault(quiz)
	if err := domain.ValidateQuiz(quiz); err != nil {
		return "", err
	}

	s := e.newSession(chatID, quiz, initiatorID)
	if !e.registry.insertIfAbsent(s) {
		return "", domain.ErrAlreadyActive
	}
	e.met.ActiveSessions.Inc()
	e.log.WithFields(logrus.Fields{
		"chat_id":    chatID,
		"quiz_id":    quizID,
		"session_id": s.id,
	}).Info("quiz session started")
	go s.run(false)
	return s.id, nil
}

// Join registers a participant during the lobby countdown.
func (e *Engine) Join(chatID, userID int64, displayName string) error {
	s, ok := e.registry.get(chatID)
	if !ok {
		return domain.ErrNoSession
	}
	reply := make(chan error, 1)
	if !s.postEvent(joinEvent{userID: userID, name: displayName, reply: reply}) {
		return domain.ErrSessionClosed
	}
	return <-reply
}

// StopQuiz signals the chat's session to end. Only the initiator or a
// moderator may stop it; the stop is cooperative, not preemptive.
func (e *Engine) StopQuiz(ctx context.Context, chatID, requesterID int64, moderator bool) error {
	s, ok := e.registry.get(chatID)
	if !ok {
		return domain.ErrNoSession
	}
	reply := make(chan error, 1)
	if !s.postEvent(stopEvent{requestedBy: requesterID, moderator: moderator, reply: reply}) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a consistent snapshot of the chat's live session, or
// ErrNoSession when the chat is idle.
func (e *Engine) Status(chatID int64) (domain.SessionSnapshot, error) {
	s, ok := e.registry.get(chatID)
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrNoSession
	}
	reply := make(chan domain.SessionSnapshot, 1)
	if !s.postEvent(statusEvent{reply: reply}) {
		return domain.SessionSnapshot{}, domain.ErrSessionClosed
	}
	return <-reply, nil
}

// HandlePollAnswer routes an inbound vote to the session owning the poll.
// Votes for unknown (stale) polls are dropped.
func (e *Engine) HandlePollAnswer(ev domain.PollAnswerEvent) {
	s, ok := e.registry.lookupPoll(ev.PollRef)
	if !ok {
		return
	}
	s.postEvent(answerEvent{ev: ev})
}

// ActiveSessions reports how many sessions are currently live.
func (e *Engine) ActiveSessions() int {
	return e.registry.active()
}

// Recover reattaches every non-terminal persisted session at startup.
// Elapsed windows grade immediately; sessions whose aggregation was not
// confirmed re-attempt it (the aggregator is idempotent per session).
func (e *Engine) Recover(ctx context.Context) error {
	snaps, err := e.store.LoadIncomplete(ctx)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		log := e.log.WithFields(logrus.Fields{
			"chat_id":    snap.ChatID,
			"session_id": snap.SessionID,
			"status":     snap.Status,
		})
		quiz, err := e.quizzes.GetQuiz(ctx, snap.QuizID)
		if err == nil {
			quiz = e.applyWindowDefault(quiz)
		}
		if err != nil {
			log.WithError(err).Warn("quiz gone, dropping stale session snapshot")
			if delErr := e.store.Delete(ctx, snap.ChatID); delErr != nil {
				log.WithError(delErr).Warn("drop snapshot failed")
			}
			continue
		}

		s := e.restoreSession(snap, quiz)
		if !e.registry.insertIfAbsent(s) {
			log.Warn("chat already has a live session, skipping recovery")
			continue
		}
		e.met.ActiveSessions.Inc()
		log.Info("recovering session")
		go s.run(true)
	}
	return nil
}

func (e *Engine) newSession(chatID int64, quiz domain.Quiz, initiatorID int64) *session {
	id := uuid.NewString()
	return &session{
		id:           id,
		chatID:       chatID,
		quiz:         quiz,
		startedBy:    initiatorID,
		transport:    e.transport,
		store:        e.store,
		agg:          e.agg,
		sched:        e.sched,
		registry:     e.registry,
		met:          e.met,
		log:          e.log.WithFields(logrus.Fields{"chat_id": chatID, "session_id": id}),
		now:          e.now,
		cfg:          e.cfg,
		ctx:          e.ctx,
		events:       make(chan event, 128),
		done:         make(chan struct{}),
		participants: make(map[int64]string),
		answers:      make(map[int64]map[int]domain.Answer),
		openedAt:     make(map[int]time.Time),
	}
}

func (e *Engine) restoreSession(snap domain.SessionSnapshot, quiz domain.Quiz) *session {
	s := e.newSession(snap.ChatID, quiz, snap.StartedBy)
	s.id = snap.SessionID
	s.log = e.log.WithFields(logrus.Fields{"chat_id": snap.ChatID, "session_id": snap.SessionID})
	s.status = snap.Status
	s.current = snap.CurrentQuestion
	s.pollRef = snap.CurrentPollRef
	s.startedAt = snap.StartedAt
	if snap.Participants != nil {
		s.participants = snap.Participants
	}
	if snap.Answers != nil {
		s.answers = snap.Answers
	}
	if snap.QuestionOpenedAt != nil {
		s.openedAt = snap.QuestionOpenedAt
	}
	return s
}

// applyWindowDefault fills in missing per-question windows from the
// configured default before validation runs.
func (e *Engine) applyWindowDefault(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	for i := range questions {
		if questions[i].TimeLimit == 0 {
			questions[i].TimeLimit = e.cfg.DefaultWindow
		}
	}
	quiz.Questions = questions
	return quiz
}
