package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

const (
	// DefaultTimeLimit is the per-question answering window.
	DefaultTimeLimit = 30 * time.Second
	// DefaultPointBudget is the full-credit score for a question.
	DefaultPointBudget = 1000

	clientCountDelay = 500 * time.Millisecond
)

// Engine owns the session lifecycle, question broadcasting and response
// scoring for the one session a process runs at a time.
type Engine struct {
	repo      Repository
	answers   AnswerSource
	bus       transport.Bus
	timeLimit time.Duration
	rt        *runtime

	countMu      sync.Mutex
	countPending bool
	countDelay   time.Duration
}

// NewEngine wires the engine against a repository and an outbound bus.
// answers may be nil, in which case correct sets are read straight from the
// repository.
func NewEngine(repo Repository, bus transport.Bus, answers AnswerSource, timeLimit time.Duration) *Engine {
	return NewEngineWithClock(repo, bus, answers, timeLimit, time.Now)
}

// NewEngineWithClock allows deterministic timestamps in tests.
func NewEngineWithClock(repo Repository, bus transport.Bus, answers AnswerSource, timeLimit time.Duration, now func() time.Time) *Engine {
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}
	e := &Engine{
		repo:       repo,
		bus:        bus,
		timeLimit:  timeLimit,
		rt:         newRuntime(now),
		countDelay: clientCountDelay,
	}
	if answers != nil {
		e.answers = answers
	} else {
		e.answers = repo
	}
	return e
}

// SetClientCountDelay overrides the debounce on client-count publishes.
// Zero makes the publish synchronous; tests use that.
func (e *Engine) SetClientCountDelay(d time.Duration) {
	e.countDelay = d
}

// QuestionDraft is the quiz-authoring input for one question. Exactly one of
// CorrectIndex (single_select) or CorrectAnswers (multi_select) must be set.
type QuestionDraft struct {
	Text           string              `json:"questionText"`
	Type           domain.QuestionType `json:"type"`
	Points         int                 `json:"points"`
	Answers        []string            `json:"answers"`
	CorrectIndex   *int                `json:"correctAnswerIndex,omitempty"`
	CorrectAnswers []bool              `json:"correctAnswers,omitempty"`
}

func (d QuestionDraft) correctness() ([]bool, error) {
	if len(d.Answers) < 2 {
		return nil, errors.New("at least two answers required")
	}
	switch d.Type {
	case domain.SingleSelect:
		if d.CorrectIndex == nil || d.CorrectAnswers != nil {
			return nil, errors.New("single_select requires a correct answer index and no correctness set")
		}
		idx := *d.CorrectIndex
		if idx < 0 || idx >= len(d.Answers) {
			return nil, errors.New("correct answer index out of range")
		}
		flags := make([]bool, len(d.Answers))
		flags[idx] = true
		return flags, nil
	case domain.MultiSelect:
		if d.CorrectAnswers == nil || d.CorrectIndex != nil {
			return nil, errors.New("multi_select requires a correctness set and no correct answer index")
		}
		if len(d.CorrectAnswers) != len(d.Answers) {
			return nil, errors.New("correctness set must match answer count")
		}
		return d.CorrectAnswers, nil
	default:
		return nil, fmt.Errorf("unknown question type %q", d.Type)
	}
}

// CreateSession persists a new pending session with its questions and
// options and returns the new session id.
func (e *Engine) CreateSession(ctx context.Context, name, tapSequence string, drafts []QuestionDraft) (string, error) {
	if name == "" || tapSequence == "" || len(drafts) == 0 {
		return "", errors.New("session name, tap sequence and questions are required")
	}
	now := e.rt.now()
	session := &domain.Session{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      domain.StatusPending,
		TapSequence: tapSequence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	for i, draft := range drafts {
		flags, err := draft.correctness()
		if err != nil {
			return "", fmt.Errorf("question %d: %w", i+1, err)
		}
		points := draft.Points
		if points == 0 {
			points = DefaultPointBudget
		}
		question := &domain.Question{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Text:      draft.Text,
			Type:      draft.Type,
			Points:    points,
			Position:  i + 1,
		}
		if err := e.repo.CreateQuestion(ctx, question); err != nil {
			return "", fmt.Errorf("create question %d: %w", i+1, err)
		}
		for j, text := range draft.Answers {
			option := &domain.Option{
				ID:         uuid.NewString(),
				QuestionID: question.ID,
				Text:       text,
				IsCorrect:  flags[j],
				Position:   j + 1,
			}
			if err := e.repo.CreateOption(ctx, option); err != nil {
				return "", fmt.Errorf("create option %d of question %d: %w", j+1, i+1, err)
			}
		}
	}
	log.Printf("[QUIZ] created session %q (%s) with %d questions", name, session.ID, len(drafts))
	return session.ID, nil
}

// CloneSession copies a session's questions and options into a fresh pending
// session. Sessions are never re-activated; a restart with the same content
// goes through here.
func (e *Engine) CloneSession(ctx context.Context, sessionID string) (string, error) {
	source, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	now := e.rt.now()
	clone := &domain.Session{
		ID:          uuid.NewString(),
		Name:        source.Name,
		Status:      domain.StatusPending,
		TapSequence: source.TapSequence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateSession(ctx, clone); err != nil {
		return "", fmt.Errorf("clone session: %w", err)
	}
	total, err := e.repo.CountQuestions(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := 0; i < total; i++ {
		question, err := e.repo.QuestionByOrdinal(ctx, sessionID, i)
		if err != nil {
			return "", err
		}
		options, err := e.repo.OptionsForQuestion(ctx, question.ID)
		if err != nil {
			return "", err
		}
		copied := question
		copied.ID = uuid.NewString()
		copied.SessionID = clone.ID
		if err := e.repo.CreateQuestion(ctx, &copied); err != nil {
			return "", err
		}
		for _, option := range options {
			o := option
			o.ID = uuid.NewString()
			o.QuestionID = copied.ID
			if err := e.repo.CreateOption(ctx, &o); err != nil {
				return "", err
			}
		}
	}
	log.Printf("[QUIZ] cloned session %s into %s", sessionID, clone.ID)
	return clone.ID, nil
}

// BroadcastAuth publishes the session's tap sequence so devices can prompt
// for the join code.
func (e *Engine) BroadcastAuth(ctx context.Context, sessionID string) error {
	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	e.publish(ctx, transport.TopicAuth, authPayload{
		SessionID:   session.ID,
		SessionName: session.Name,
		TapSequence: session.TapSequence,
	})
	log.Printf("[QUIZ] broadcast auth code for session %s", session.ID)
	return nil
}

// AuthorizeJoin validates a join request against the session's tap sequence.
// The join window closes the instant the session starts. Repeated joins by
// the same identity are idempotent.
func (e *Engine) AuthorizeJoin(ctx context.Context, sessionID, tapSequence, identity, name string) (domain.Player, error) {
	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Player{}, err
	}
	if session.Status != domain.StatusPending {
		log.Printf("[SECURITY] reject join from %s: session %s already started", identity, sessionID)
		return domain.Player{}, domain.ErrSessionActive
	}
	if tapSequence != session.TapSequence {
		log.Printf("[SECURITY] invalid tap sequence from %s for session %s", identity, sessionID)
		return domain.Player{}, domain.ErrInvalidAuth
	}

	player, err := e.repo.PlayerByIdentity(ctx, sessionID, identity)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		player = domain.Player{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Identity:  identity,
			Name:      name,
			Score:     0,
			JoinedAt:  e.rt.now(),
		}
		if err := e.repo.CreatePlayer(ctx, &player); err != nil {
			return domain.Player{}, fmt.Errorf("create player: %w", err)
		}
	} else if err != nil {
		return domain.Player{}, err
	}

	e.publish(ctx, transport.ClientInfoTopic(player.ID), clientInfoPayload{
		ID:         player.ID,
		Name:       player.Name,
		Authorized: true,
	})
	e.publishClientCount(sessionID)
	log.Printf("[QUIZ] %s joined session %s as player %s", identity, sessionID, player.ID)
	return player, nil
}

// StartSession flips the session to active, pins it as the process's live
// session and broadcasts the first question.
func (e *Engine) StartSession(ctx context.Context, sessionID string) error {
	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusPending {
		return domain.ErrSessionActive
	}
	if err := e.repo.UpdateSessionStatus(ctx, sessionID, domain.StatusActive); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}

	e.rt.mu.Lock()
	e.rt.activeSession = sessionID
	e.rt.mu.Unlock()

	e.publish(ctx, transport.TopicSessionStart, sessionStartPayload{SessionID: sessionID, Name: session.Name})
	log.Printf("[QUIZ] session started: %s (%s)", session.Name, sessionID)

	_, err = e.BroadcastQuestion(ctx, sessionID, 0)
	return err
}

// EndSession marks the session completed and clears all live state.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.repo.UpdateSessionStatus(ctx, sessionID, domain.StatusCompleted); err != nil {
		return err
	}
	e.publish(ctx, transport.TopicSessionEnd, sessionEndPayload{SessionID: sessionID, Message: "Quiz Ended"})

	e.rt.mu.Lock()
	e.rt.resetLocked()
	e.rt.mu.Unlock()

	log.Printf("[QUIZ] session ended: %s", sessionID)
	return nil
}

// ResetScores zeroes every player's score in the session and broadcasts the
// zeroed scores. Response history is untouched.
func (e *Engine) ResetScores(ctx context.Context, sessionID string) error {
	players, err := e.repo.PlayersInSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, player := range players {
		if err := e.repo.SetPlayerScore(ctx, player.ID, 0); err != nil {
			return fmt.Errorf("reset score for %s: %w", player.ID, err)
		}
		e.publish(ctx, transport.PlayerScoreTopic(player.ID), scorePayload{ID: player.ID, Score: 0})
	}
	e.publish(ctx, transport.TopicReset, resetPayload{SessionID: sessionID, Message: "Quiz is reset"})
	log.Printf("[QUIZ] reset scores for %d players in session %s", len(players), sessionID)
	return nil
}

// Leaderboard returns the session's players ordered by score descending.
func (e *Engine) Leaderboard(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return e.repo.Leaderboard(ctx, sessionID)
}

// RunTimeSync publishes the server clock once a second so devices stamp their
// responses on the server's time base. Blocks until ctx is done.
func (e *Engine) RunTimeSync(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publish(ctx, transport.TopicTimeSync, timeSyncPayload{ServerTime: e.rt.now().UnixMilli()})
		}
	}
}

// publishClientCount publishes the session's player count, debounced so a
// burst of joins produces one message.
func (e *Engine) publishClientCount(sessionID string) {
	if e.countDelay <= 0 {
		e.emitClientCount(sessionID)
		return
	}
	e.countMu.Lock()
	if e.countPending {
		e.countMu.Unlock()
		return
	}
	e.countPending = true
	e.countMu.Unlock()

	time.AfterFunc(e.countDelay, func() {
		e.countMu.Lock()
		e.countPending = false
		e.countMu.Unlock()
		e.emitClientCount(sessionID)
	})
}

func (e *Engine) emitClientCount(sessionID string) {
	ctx := context.Background()
	count, err := e.repo.CountPlayers(ctx, sessionID)
	if err != nil {
		log.Printf("[QUIZ] count players: %v", err)
		return
	}
	if err := e.bus.Publish(ctx, transport.TopicClientCount, []byte(strconv.Itoa(count))); err != nil {
		log.Printf("[QUIZ] publish client count: %v", err)
	}
}
