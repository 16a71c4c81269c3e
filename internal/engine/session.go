package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/metrics"
)

// Events funneled into a session's loop. Answers, wake-ups, joins, stop
// requests and status queries all serialize onto the same goroutine, so
// the session state needs no locking.
type event interface{}

type answerEvent struct {
	ev domain.PollAnswerEvent
}

type joinEvent struct {
	userID int64
	name   string
	reply  chan error
}

type stopEvent struct {
	requestedBy int64
	moderator   bool
	reply       chan error
}

type statusEvent struct {
	reply chan domain.SessionSnapshot
}

type wakeEvent struct {
	epoch uint64
}

// session drives one quiz run in one chat:
//
//	lobby -> running(i) -> grading(i) -> running(i+1) | finalizing
//	finalizing -> completed
//	any -> aborted (authorized stop, delivery failure)
//
// The window-close wake-up and the all-answered fast path both funnel into
// closeQuestion; whoever arrives second finds the state moved on and is a
// no-op.
type session struct {
	id        string
	chatID    int64
	quiz      domain.Quiz
	startedBy int64

	transport Transport
	store     SessionStore
	agg       *ScoreAggregator
	sched     Scheduler
	registry  *Registry
	met       *metrics.Metrics
	log       *logrus.Entry
	now       func() time.Time
	cfg       Settings
	ctx       context.Context

	events chan event
	done   chan struct{}

	// owned by the run goroutine
	status       domain.SessionStatus
	current      int
	openedAt     map[int]time.Time
	pollRef      string
	participants map[int64]string
	answers      map[int64]map[int]domain.Answer
	startedAt    time.Time
	epoch        uint64
	cancelWake   func()
}

func (s *session) run(resume bool) {
	defer s.finish()

	if resume {
		s.resume()
	} else {
		s.startedAt = s.now()
		if s.cfg.JoinCountdown > 0 {
			s.openLobby()
		} else {
			s.openQuestion(0)
		}
	}

	for !s.status.Terminal() {
		switch ev := (<-s.events).(type) {
		case answerEvent:
			s.handleAnswer(ev.ev)
		case joinEvent:
			s.handleJoin(ev)
		case stopEvent:
			s.handleStop(ev)
		case statusEvent:
			ev.reply <- s.snapshot()
		case wakeEvent:
			s.handleWake(ev.epoch)
		}
	}
}

func (s *session) finish() {
	if s.cancelWake != nil {
		s.cancelWake()
	}
	close(s.done)
	s.registry.remove(s)
	s.met.ActiveSessions.Dec()
	s.met.SessionsFinished.WithLabelValues(string(s.status)).Inc()
	s.log.WithField("status", s.status).Info("session ended")
}

// postEvent delivers ev unless the session already reached a terminal
// state. Safe to call from any goroutine except the session's own.
func (s *session) postEvent(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) openLobby() {
	s.status = domain.StatusLobby
	text := fmt.Sprintf("🎯 %s\n❓ %d questions\nStarting in %s — join now!",
		s.quiz.Title, len(s.quiz.Questions), s.cfg.JoinCountdown)
	if err := s.withRetry(func() error { return s.transport.PostMessage(s.ctx, s.chatID, text) }); err != nil {
		s.log.WithError(err).Error("lobby announce failed")
		s.met.DeliveryFailures.Inc()
		s.finalize(domain.StatusAborted)
		return
	}
	s.persist()
	s.scheduleWake(s.cfg.JoinCountdown)
}

func (s *session) handleJoin(ev joinEvent) {
	if s.status != domain.StatusLobby {
		ev.reply <- domain.ErrJoinClosed
		return
	}
	s.participants[ev.userID] = ev.name
	s.persist()
	ev.reply <- nil
}

func (s *session) lobbyClosed() {
	if len(s.participants) == 0 {
		_ = s.transport.PostMessage(s.ctx, s.chatID, "❌ No players joined — quiz cancelled.")
		s.finalize(domain.StatusAborted)
		return
	}
	names := make([]string, 0, len(s.participants))
	for _, name := range s.participants {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 10 {
		names = names[:10]
	}
	_ = s.transport.PostMessage(s.ctx, s.chatID,
		fmt.Sprintf("🎮 %d players joined: %s\n🚀 Starting now!", len(s.participants), strings.Join(names, ", ")))
	s.openQuestion(0)
}

func (s *session) openQuestion(i int) {
	s.status = domain.StatusRunning
	s.current = i
	q := s.quiz.Questions[i]

	var ref string
	err := s.withRetry(func() error {
		var postErr error
		ref, postErr = s.transport.PostTimedPoll(s.ctx, s.chatID, q)
		return postErr
	})
	if err != nil {
		s.log.WithError(err).WithField("question", i).Error("poll delivery failed")
		s.met.DeliveryFailures.Inc()
		s.finalize(domain.StatusAborted)
		return
	}

	if s.pollRef != "" {
		s.registry.unbindPoll(s.pollRef)
	}
	s.pollRef = ref
	s.registry.bindPoll(ref, s)
	s.openedAt[i] = s.now()
	s.met.PollsPosted.Inc()
	if err := s.persistErr(); err != nil {
		// progress cannot be made durable; stop before answers pile up
		s.log.WithError(err).Error("persist failed, aborting session")
		s.finalize(domain.StatusAborted)
		return
	}
	s.scheduleWake(q.TimeLimit)
}

// handleAnswer records a vote for the currently open question. Answers for
// stale polls and repeat votes from the same participant are ignored; the
// first received answer wins.
func (s *session) handleAnswer(ev domain.PollAnswerEvent) {
	if s.status != domain.StatusRunning || ev.PollRef != s.pollRef {
		return
	}
	if ev.Option < 0 || ev.Option >= len(s.quiz.Questions[s.current].Options) {
		return
	}
	byParticipant, ok := s.answers[ev.ParticipantID]
	if !ok {
		byParticipant = make(map[int]domain.Answer)
		s.answers[ev.ParticipantID] = byParticipant
	}
	if _, dup := byParticipant[s.current]; dup {
		return
	}

	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	byParticipant[s.current] = domain.Answer{Option: ev.Option, AnsweredAt: at}
	if _, known := s.participants[ev.ParticipantID]; !known {
		name := ev.DisplayName
		if name == "" {
			name = fmt.Sprintf("Player %d", ev.ParticipantID)
		}
		s.participants[ev.ParticipantID] = name
	}
	s.met.AnswersRecorded.Inc()
	s.persist()

	if s.allAnswered() {
		s.closeQuestion()
	}
}

// allAnswered is the fast-path guard: every known participant has voted on
// the current question.
func (s *session) allAnswered() bool {
	if len(s.participants) == 0 {
		return false
	}
	for id := range s.participants {
		if _, ok := s.answers[id][s.current]; !ok {
			return false
		}
	}
	return true
}

func (s *session) handleWake(epoch uint64) {
	if epoch != s.epoch {
		return // stale wake-up, the session advanced for another reason
	}
	switch s.status {
	case domain.StatusLobby:
		s.lobbyClosed()
	case domain.StatusRunning:
		s.closeQuestion()
	}
}

func (s *session) closeQuestion() {
	s.status = domain.StatusGrading
	if s.cancelWake != nil {
		s.cancelWake()
		s.cancelWake = nil
	}
	if s.pollRef != "" {
		if err := s.transport.ClosePoll(s.ctx, s.pollRef); err != nil {
			s.log.WithError(err).Warn("close poll failed")
		}
		s.registry.unbindPoll(s.pollRef)
		s.pollRef = ""
	}
	s.persist()
	s.afterGrade()
}

func (s *session) afterGrade() {
	next := s.current + 1
	if next >= len(s.quiz.Questions) {
		s.finalize(domain.StatusCompleted)
		return
	}
	if s.cfg.StandingsEvery > 0 && next%s.cfg.StandingsEvery == 0 {
		if text := s.standings(); text != "" {
			_ = s.transport.PostMessage(s.ctx, s.chatID, text)
		}
	}
	s.openQuestion(next)
}

func (s *session) handleStop(ev stopEvent) {
	if !ev.moderator && ev.requestedBy != s.startedBy {
		ev.reply <- domain.ErrUnauthorized
		return
	}
	ev.reply <- nil
	_ = s.transport.PostMessage(s.ctx, s.chatID, "🛑 Quiz stopped!")
	s.finalize(domain.StatusAborted)
}

// finalize scores whatever was answered, hands it to the aggregator and
// reaches a terminal state. Partial results from an aborted quiz are
// scored, not discarded; zero answers mean no leaderboard update at all.
func (s *session) finalize(final domain.SessionStatus) {
	s.status = domain.StatusFinalizing
	s.persist()

	results := s.computeResults()
	answered := false
	for _, res := range results {
		if res.Answered > 0 {
			answered = true
			break
		}
	}

	if answered {
		err := s.agg.RecordSessionResult(s.ctx, s.id, s.chatID, s.quiz.ID, results)
		if err != nil && !errors.Is(err, domain.ErrAlreadyRecorded) {
			// keep the snapshot; recovery re-attempts the merge
			s.log.WithError(err).Error("leaderboard aggregation failed, snapshot kept for recovery")
			s.status = final
			return
		}
		_ = s.transport.PostMessage(s.ctx, s.chatID, s.summary(results, final))
	}

	s.status = final
	if err := s.store.Delete(s.ctx, s.chatID); err != nil {
		s.log.WithError(err).Warn("archive session snapshot failed")
	}
}

// resume picks up a snapshot loaded at startup. An already-elapsed window
// grades immediately, exactly as if the wake-up had fired live.
func (s *session) resume() {
	switch s.status {
	case domain.StatusLobby:
		// the countdown was lost with the process; nothing was answered
		_ = s.transport.PostMessage(s.ctx, s.chatID, "❌ Quiz cancelled.")
		s.finalize(domain.StatusAborted)
	case domain.StatusRunning:
		if s.current >= len(s.quiz.Questions) {
			// quiz definition shrank since the snapshot was taken
			s.finalize(domain.StatusAborted)
			return
		}
		if s.pollRef != "" {
			s.registry.bindPoll(s.pollRef, s)
		}
		remaining := s.quiz.Questions[s.current].TimeLimit - s.now().Sub(s.openedAt[s.current])
		if remaining <= 0 {
			s.closeQuestion()
		} else {
			s.scheduleWake(remaining)
		}
	case domain.StatusGrading:
		// poll already closed before the restart
		s.afterGrade()
	case domain.StatusFinalizing:
		if s.current >= len(s.quiz.Questions)-1 {
			s.finalize(domain.StatusCompleted)
		} else {
			s.finalize(domain.StatusAborted)
		}
	}
}

func (s *session) scheduleWake(d time.Duration) {
	s.epoch++
	if s.cancelWake != nil {
		s.cancelWake()
	}
	epoch := s.epoch
	s.cancelWake = s.sched.After(d, func() {
		s.postEvent(wakeEvent{epoch: epoch})
	})
}

func (s *session) persist() {
	if err := s.persistErr(); err != nil {
		s.log.WithError(err).Error("persist session progress failed")
	}
}

func (s *session) persistErr() error {
	snap := s.snapshot()
	return s.withRetry(func() error { return s.store.Save(s.ctx, snap) })
}

func (s *session) withRetry(op func() error) error {
	var err error
	backoff := s.cfg.RetryBackoff
	for attempt := 0; attempt < s.cfg.MaxPostRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt < s.cfg.MaxPostRetries-1 {
			select {
			case <-s.ctx.Done():
				return err
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return err
}

func (s *session) snapshot() domain.SessionSnapshot {
	participants := make(map[int64]string, len(s.participants))
	for id, name := range s.participants {
		participants[id] = name
	}
	answers := make(map[int64]map[int]domain.Answer, len(s.answers))
	for id, byQuestion := range s.answers {
		inner := make(map[int]domain.Answer, len(byQuestion))
		for q, a := range byQuestion {
			inner[q] = a
		}
		answers[id] = inner
	}
	openedAt := make(map[int]time.Time, len(s.openedAt))
	for idx, at := range s.openedAt {
		openedAt[idx] = at
	}
	return domain.SessionSnapshot{
		SessionID:        s.id,
		ChatID:           s.chatID,
		QuizID:           s.quiz.ID,
		StartedBy:        s.startedBy,
		Status:           s.status,
		CurrentQuestion:  s.current,
		QuestionOpenedAt: openedAt,
		CurrentPollRef:   s.pollRef,
		Participants:     participants,
		Answers:          answers,
		StartedAt:        s.startedAt,
	}
}

// computeResults folds the recorded answers into one result per
// participant who answered at least once, sorted for display: points
// first, faster average response breaking ties.
func (s *session) computeResults() []domain.ParticipantResult {
	results := make([]domain.ParticipantResult, 0, len(s.answers))
	for id, byQuestion := range s.answers {
		res := domain.ParticipantResult{
			ParticipantID: id,
			DisplayName:   s.participants[id],
		}
		var totalLatency time.Duration
		for idx, answer := range byQuestion {
			if idx < 0 || idx >= len(s.quiz.Questions) {
				continue
			}
			q := s.quiz.Questions[idx]
			res.Answered++
			latency := s.latencyFor(idx, answer)
			totalLatency += latency
			if answer.Option == q.CorrectIndex {
				res.Correct++
				res.Points += scorePoints(latency, q.TimeLimit, s.quiz.SpeedBonus)
			}
		}
		if res.Answered > 0 {
			res.AvgLatency = totalLatency / time.Duration(res.Answered)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Points != results[j].Points {
			return results[i].Points > results[j].Points
		}
		if results[i].AvgLatency != results[j].AvgLatency {
			return results[i].AvgLatency < results[j].AvgLatency
		}
		return results[i].DisplayName < results[j].DisplayName
	})
	return results
}

// latencyFor measures how long after the question opened the vote landed.
// Clamped at zero against transport clock skew.
func (s *session) latencyFor(idx int, answer domain.Answer) time.Duration {
	opened, ok := s.openedAt[idx]
	if !ok {
		return 0
	}
	latency := answer.AnsweredAt.Sub(opened)
	if latency < 0 {
		return 0
	}
	return latency
}

const basePoints = 5

// scorePoints mirrors the chat-quiz scoring: 5 for a correct answer plus
// a speed bonus tier by time remaining when the vote landed.
func scorePoints(latency, window time.Duration, speedBonus bool) int {
	if !speedBonus || window <= 0 {
		return basePoints
	}
	remaining := (float64(window-latency) / float64(window)) * 100
	switch {
	case remaining >= 90:
		return basePoints + 10
	case remaining >= 80:
		return basePoints + 8
	case remaining >= 60:
		return basePoints + 5
	case remaining >= 50:
		return basePoints + 3
	}
	return basePoints
}

func (s *session) standings() string {
	results := s.computeResults()
	if len(results) == 0 {
		return ""
	}
	if len(results) > 5 {
		results = results[:5]
	}
	var b strings.Builder
	b.WriteString("📊 Current standings:\n")
	writeRanking(&b, results, len(s.quiz.Questions), false)
	return b.String()
}

func (s *session) summary(results []domain.ParticipantResult, final domain.SessionStatus) string {
	var b strings.Builder
	if final == domain.StatusCompleted {
		b.WriteString("🏆 Quiz complete!\n\nFinal leaderboard:\n")
	} else {
		b.WriteString("🏁 Quiz ended early.\n\nStandings:\n")
	}
	if len(results) > 10 {
		results = results[:10]
	}
	writeRanking(&b, results, len(s.quiz.Questions), true)
	return b.String()
}

var medals = []string{"🥇", "🥈", "🥉"}

func writeRanking(b *strings.Builder, results []domain.ParticipantResult, totalQuestions int, withCorrect bool) {
	for rank, res := range results {
		prefix := fmt.Sprintf("%d.", rank+1)
		if rank < len(medals) {
			prefix = medals[rank]
		}
		if withCorrect {
			fmt.Fprintf(b, "%s %s — %d pts (%d/%d)\n", prefix, res.DisplayName, res.Points, res.Correct, totalQuestions)
		} else {
			fmt.Fprintf(b, "%s %s — %d pts\n", prefix, res.DisplayName, res.Points)
		}
	}
}
