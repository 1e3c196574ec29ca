package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionActive is returned when an operation needs a pending session
	// but the session has already started (or completed).
	ErrSessionActive = errors.New("session already active")
	// ErrInvalidAuth is returned when a join carries the wrong tap sequence.
	ErrInvalidAuth = errors.New("invalid tap sequence")
	// ErrQuestionNotFound indicates a question id is unknown.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates an option id does not belong to the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrPlayerNotFound indicates no player row exists for the identity.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrNoActiveSession indicates a submission arrived with no quiz running.
	ErrNoActiveSession = errors.New("no active session")
)
