package domain

import "time"

// SessionStatus tracks the quiz lifecycle: pending -> active -> completed.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// QuestionType distinguishes one-of-N questions from pick-a-subset questions.
type QuestionType string

const (
	SingleSelect QuestionType = "single_select"
	MultiSelect  QuestionType = "multi_select"
)

// Session is one live quiz room. The tap sequence is the shared-secret join
// code players enter on their devices.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      SessionStatus `json:"status"`
	TapSequence string        `json:"tapSequence"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Question is immutable once created. Position is 1-based within a session.
type Question struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Points    int          `json:"points"`
	Position  int          `json:"position"`
}

// Option is one possible answer. IsCorrect never leaves the server except on
// the dashboard answer-key topic.
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
	Position   int    `json:"position"`
}

// Player is one (session, identity) pair with a running score.
type Player struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Identity  string    `json:"identity"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Response is one stored answer row. Single-select keeps exactly one row per
// (player, question); multi-select keeps one row per selected option, all
// sharing the same correctness flag and points value.
type Response struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	QuestionID     string `json:"questionId"`
	PlayerID       string `json:"playerId"`
	OptionID       string `json:"optionId"`
	ResponseTimeMs int64  `json:"responseTime"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsAwarded  int    `json:"pointsAwarded"`
}
