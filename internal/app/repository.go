package app

import (
	"context"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
)

// Repository is the durable store for sessions, questions, options, players
// and responses. Implementations live under internal/infra.
type Repository interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error

	CreateQuestion(ctx context.Context, q *domain.Question) error
	CreateOption(ctx context.Context, o *domain.Option) error
	CountQuestions(ctx context.Context, sessionID string) (int, error)
	QuestionByOrdinal(ctx context.Context, sessionID string, index int) (domain.Question, error)
	QuestionByID(ctx context.Context, id string) (domain.Question, error)
	OptionsForQuestion(ctx context.Context, questionID string) ([]domain.Option, error)
	OptionByID(ctx context.Context, questionID, optionID string) (domain.Option, error)
	CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error)

	CreatePlayer(ctx context.Context, p *domain.Player) error
	PlayerByIdentity(ctx context.Context, sessionID, identity string) (domain.Player, error)
	SetPlayerScore(ctx context.Context, playerID string, score int) error
	PlayersInSession(ctx context.Context, sessionID string) ([]domain.Player, error)
	CountPlayers(ctx context.Context, sessionID string) (int, error)

	Response(ctx context.Context, playerID, questionID string) (domain.Response, bool, error)
	Responses(ctx context.Context, playerID, questionID string) ([]domain.Response, error)
	ReplaceResponse(ctx context.Context, r *domain.Response) error
	DeleteResponses(ctx context.Context, playerID, questionID string) error
	InsertResponse(ctx context.Context, r *domain.Response) error
	CountDistinctResponders(ctx context.Context, questionID, sessionID string) (int, error)

	// Leaderboard returns the session's players sorted by score descending.
	Leaderboard(ctx context.Context, sessionID string) ([]domain.Player, error)
}

// AnswerSource resolves the correct option-id set for a question. The redis
// cache implements this in front of the repository so multi-select grading
// does not hit the database on every submission.
type AnswerSource interface {
	CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error)
}
