package app

import (
	"context"
	"log"
	"time"

	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

// BroadcastQuestion publishes the question at the given 0-based index and
// arms its close deadline. It returns finished=true (and no error) when the
// index is past the last question, which is the expected end-of-quiz signal.
func (e *Engine) BroadcastQuestion(ctx context.Context, sessionID string, index int) (finished bool, err error) {
	total, err := e.repo.CountQuestions(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if index >= total {
		log.Printf("[QUIZ] no question at index %d for session %s; quiz is finished", index, sessionID)
		return true, nil
	}
	question, err := e.repo.QuestionByOrdinal(ctx, sessionID, index)
	if err != nil {
		return false, err
	}
	options, err := e.repo.OptionsForQuestion(ctx, question.ID)
	if err != nil {
		return false, err
	}

	// New question: empty respondent-set per option, fresh zero-point for
	// elapsed-time scoring.
	e.rt.mu.Lock()
	e.rt.respondents = make(map[string]map[string]struct{}, len(options))
	for _, option := range options {
		e.rt.respondents[option.ID] = make(map[string]struct{})
	}
	broadcastAt := e.rt.now().UnixMilli()
	e.rt.broadcastAt[question.ID] = broadcastAt
	e.rt.closeTimers[question.ID] = time.AfterFunc(e.timeLimit, func() {
		e.autoClose(sessionID, question.ID)
	})
	e.rt.mu.Unlock()

	views := make([]questionOption, 0, len(options))
	correct := make([]string, 0, len(options))
	for _, option := range options {
		views = append(views, questionOption{ID: option.ID, Text: option.Text})
		if option.IsCorrect {
			correct = append(correct, option.ID)
		}
	}
	e.publish(ctx, transport.TopicQuestion, questionPayload{
		ID:        question.ID,
		Text:      question.Text,
		Type:      question.Type,
		Options:   views,
		Timestamp: broadcastAt,
	})
	// The answer key goes to the dashboard topic only; the question payload
	// must never leak correctness to clients.
	e.publish(ctx, transport.TopicQuestionKey, answerKeyPayload{
		QuestionID:       question.ID,
		CorrectOptionIDs: correct,
	})

	log.Printf("[QUIZ] broadcast question %s (index %d) for session %s", question.ID, index, sessionID)
	return false, nil
}

// CloseQuestion closes the question before its deadline. Calling it twice, or
// after the deadline already fired, is a no-op.
func (e *Engine) CloseQuestion(ctx context.Context, sessionID, questionID string) error {
	e.rt.mu.Lock()
	timer, armed := e.rt.closeTimers[questionID]
	if !armed {
		e.rt.mu.Unlock()
		return nil
	}
	timer.Stop()
	delete(e.rt.closeTimers, questionID)
	e.rt.mu.Unlock()

	e.finishQuestion(ctx, sessionID, questionID)
	return nil
}

func (e *Engine) autoClose(sessionID, questionID string) {
	e.rt.mu.Lock()
	if _, armed := e.rt.closeTimers[questionID]; !armed {
		// Closed early in the meantime.
		e.rt.mu.Unlock()
		return
	}
	delete(e.rt.closeTimers, questionID)
	e.rt.mu.Unlock()

	e.finishQuestion(context.Background(), sessionID, questionID)
}

// finishQuestion publishes the closed event and logs the delivery-rate
// metric. The scorer rejects late submissions on its own, so closing is pure
// UI/metric work and never gates scoring.
func (e *Engine) finishQuestion(ctx context.Context, sessionID, questionID string) {
	e.publish(ctx, transport.TopicQuestionDone, questionClosedPayload{
		QuestionID: questionID,
		ClosedAt:   e.rt.now().UnixMilli(),
	})
	log.Printf("[QUIZ] closed question %s", questionID)

	expected, err := e.repo.CountPlayers(ctx, sessionID)
	if err != nil {
		log.Printf("[QUIZ] delivery metric: count players: %v", err)
		return
	}
	received, err := e.repo.CountDistinctResponders(ctx, questionID, sessionID)
	if err != nil {
		log.Printf("[QUIZ] delivery metric: count responders: %v", err)
		return
	}
	rate := 0.0
	if expected > 0 {
		rate = float64(received) / float64(expected) * 100
	}
	log.Printf("[QUIZ] delivery rate for question %s: %.1f%% (%d/%d)", questionID, rate, received, expected)
}
