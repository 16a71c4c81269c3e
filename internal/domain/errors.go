package domain

import "errors"

var (
	// ErrAlreadyActive is returned when a quiz is started in a chat that
	// already has a live session.
	ErrAlreadyActive = errors.New("a quiz is already running in this chat")
	// ErrNoSession is returned when no live session exists for the chat.
	ErrNoSession = errors.New("no quiz is currently running")
	// ErrUnauthorized is returned when a stop request comes from someone
	// who is neither the initiator nor a moderator.
	ErrUnauthorized = errors.New("not allowed to stop this quiz")
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz rejects starting a quiz with no questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrDeliveryFailure means the transport could not post a poll after
	// bounded retries; the session aborts with partial results.
	ErrDeliveryFailure = errors.New("could not deliver poll to chat")
	// ErrAlreadyRecorded is the aggregator's idempotency short-circuit.
	// Callers treat it as success.
	ErrAlreadyRecorded = errors.New("session result already recorded")
	// ErrSessionClosed is returned when an operation races with the
	// session's terminal transition.
	ErrSessionClosed = errors.New("quiz session already ended")
	// ErrJoinClosed rejects lobby joins after the quiz started.
	ErrJoinClosed = errors.New("quiz already started")
)
