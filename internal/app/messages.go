package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
)

type questionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// questionPayload is what handheld clients receive. It deliberately carries
// no correctness flags; the answer key travels on the dashboard topic.
type questionPayload struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Type      domain.QuestionType `json:"type"`
	Options   []questionOption    `json:"options"`
	Timestamp int64               `json:"timestamp"`
}

type answerKeyPayload struct {
	QuestionID       string   `json:"questionId"`
	CorrectOptionIDs []string `json:"correctOptionIds"`
}

type questionClosedPayload struct {
	QuestionID string `json:"questionId"`
	ClosedAt   int64  `json:"closedAt"`
}

type distributionPayload struct {
	Distribution      map[string]int `json:"distribution"`
	UniqueRespondents int            `json:"uniqueRespondents"`
}

type scorePayload struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

type clientInfoPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Authorized bool   `json:"authorized"`
}

type sessionStartPayload struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

type sessionEndPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type authPayload struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
	TapSequence string `json:"tapSequence"`
}

type resetPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type timeSyncPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// publish marshals v and pushes it onto the bus. Transport failures are
// logged, never propagated: the core degrades to dropping events.
func (e *Engine) publish(ctx context.Context, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[QUIZ] marshal %s payload: %v", topic, err)
		return
	}
	if err := e.bus.Publish(ctx, topic, data); err != nil {
		log.Printf("[QUIZ] publish %s: %v", topic, err)
	}
}
