package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
)

// Repository implements app.Repository on top of a pgx connection pool.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, status, tap_sequence, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.Name, s.Status, s.TapSequence, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, status, tap_sequence, created_at, updated_at FROM sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Status, &s.TapSequence, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) CreateQuestion(ctx context.Context, q *domain.Question) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO questions (id, session_id, text, type, points, position) VALUES ($1,$2,$3,$4,$5,$6)`,
		q.ID, q.SessionID, q.Text, q.Type, q.Points, q.Position)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (r *Repository) CreateOption(ctx context.Context, o *domain.Option) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO options (id, question_id, text, is_correct, position) VALUES ($1,$2,$3,$4,$5)`,
		o.ID, o.QuestionID, o.Text, o.IsCorrect, o.Position)
	if err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	return nil
}

func (r *Repository) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM questions WHERE session_id=$1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}

func (r *Repository) QuestionByOrdinal(ctx context.Context, sessionID string, index int) (domain.Question, error) {
	var q domain.Question
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, text, type, points, position FROM questions
		 WHERE session_id=$1 ORDER BY position LIMIT 1 OFFSET $2`, sessionID, index).
		Scan(&q.ID, &q.SessionID, &q.Text, &q.Type, &q.Points, &q.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question by ordinal: %w", err)
	}
	return q, nil
}

func (r *Repository) QuestionByID(ctx context.Context, id string) (domain.Question, error) {
	var q domain.Question
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, text, type, points, position FROM questions WHERE id=$1`, id).
		Scan(&q.ID, &q.SessionID, &q.Text, &q.Type, &q.Points, &q.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

func (r *Repository) OptionsForQuestion(ctx context.Context, questionID string) ([]domain.Option, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, text, is_correct, position FROM options
		 WHERE question_id=$1 ORDER BY position`, questionID)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	var options []domain.Option
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect, &o.Position); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (r *Repository) OptionByID(ctx context.Context, questionID, optionID string) (domain.Option, error) {
	var o domain.Option
	err := r.pool.QueryRow(ctx,
		`SELECT id, question_id, text, is_correct, position FROM options WHERE id=$1 AND question_id=$2`,
		optionID, questionID).
		Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect, &o.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Option{}, domain.ErrOptionNotFound
	}
	if err != nil {
		return domain.Option{}, fmt.Errorf("load option: %w", err)
	}
	return o, nil
}

func (r *Repository) CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM options WHERE question_id=$1 AND is_correct`, questionID)
	if err != nil {
		return nil, fmt.Errorf("load correct options: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan option id: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

func (r *Repository) CreatePlayer(ctx context.Context, p *domain.Player) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO players (id, session_id, identity, name, score, joined_at) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (session_id, identity) DO NOTHING`,
		p.ID, p.SessionID, p.Identity, p.Name, p.Score, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (r *Repository) PlayerByIdentity(ctx context.Context, sessionID, identity string) (domain.Player, error) {
	var p domain.Player
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, identity, name, score, joined_at FROM players
		 WHERE session_id=$1 AND identity=$2`, sessionID, identity).
		Scan(&p.ID, &p.SessionID, &p.Identity, &p.Name, &p.Score, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("load player: %w", err)
	}
	return p, nil
}

func (r *Repository) SetPlayerScore(ctx context.Context, playerID string, score int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE players SET score=$2 WHERE id=$1`, playerID, score)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

func (r *Repository) PlayersInSession(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return r.queryPlayers(ctx,
		`SELECT id, session_id, identity, name, score, joined_at FROM players
		 WHERE session_id=$1 ORDER BY joined_at`, sessionID)
}

func (r *Repository) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM players WHERE session_id=$1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return count, nil
}

func (r *Repository) Response(ctx context.Context, playerID, questionID string) (domain.Response, bool, error) {
	var resp domain.Response
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, question_id, player_id, option_id, response_time, is_correct, points_awarded
		 FROM responses WHERE player_id=$1 AND question_id=$2 LIMIT 1`, playerID, questionID).
		Scan(&resp.ID, &resp.SessionID, &resp.QuestionID, &resp.PlayerID, &resp.OptionID,
			&resp.ResponseTimeMs, &resp.IsCorrect, &resp.PointsAwarded)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Response{}, false, nil
	}
	if err != nil {
		return domain.Response{}, false, fmt.Errorf("load response: %w", err)
	}
	return resp, true, nil
}

func (r *Repository) Responses(ctx context.Context, playerID, questionID string) ([]domain.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, player_id, option_id, response_time, is_correct, points_awarded
		 FROM responses WHERE player_id=$1 AND question_id=$2 ORDER BY option_id`, playerID, questionID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	defer rows.Close()
	var responses []domain.Response
	for rows.Next() {
		var resp domain.Response
		if err := rows.Scan(&resp.ID, &resp.SessionID, &resp.QuestionID, &resp.PlayerID, &resp.OptionID,
			&resp.ResponseTimeMs, &resp.IsCorrect, &resp.PointsAwarded); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

func (r *Repository) ReplaceResponse(ctx context.Context, resp *domain.Response) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE responses SET option_id=$2, response_time=$3, is_correct=$4, points_awarded=$5 WHERE id=$1`,
		resp.ID, resp.OptionID, resp.ResponseTimeMs, resp.IsCorrect, resp.PointsAwarded)
	if err != nil {
		return fmt.Errorf("replace response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace response: row %s vanished", resp.ID)
	}
	return nil
}

func (r *Repository) DeleteResponses(ctx context.Context, playerID, questionID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM responses WHERE player_id=$1 AND question_id=$2`, playerID, questionID)
	if err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}
	return nil
}

func (r *Repository) InsertResponse(ctx context.Context, resp *domain.Response) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (id, session_id, question_id, player_id, option_id, response_time, is_correct, points_awarded)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		resp.ID, resp.SessionID, resp.QuestionID, resp.PlayerID, resp.OptionID,
		resp.ResponseTimeMs, resp.IsCorrect, resp.PointsAwarded)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (r *Repository) CountDistinctResponders(ctx context.Context, questionID, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(DISTINCT player_id) FROM responses WHERE question_id=$1 AND session_id=$2`,
		questionID, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count responders: %w", err)
	}
	return count, nil
}

func (r *Repository) Leaderboard(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return r.queryPlayers(ctx,
		`SELECT id, session_id, identity, name, score, joined_at FROM players
		 WHERE session_id=$1 ORDER BY score DESC, joined_at`, sessionID)
}

func (r *Repository) queryPlayers(ctx context.Context, query string, args ...any) ([]domain.Player, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()
	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Identity, &p.Name, &p.Score, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}
