package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
)

// Repository is an in-memory implementation of app.Repository, used by unit
// tests and by the server when no postgres URL is configured.
type Repository struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	questions map[string]domain.Question
	options   map[string]domain.Option
	players   map[string]domain.Player
	responses map[string]domain.Response
}

func NewRepository() *Repository {
	return &Repository{
		sessions:  make(map[string]domain.Session),
		questions: make(map[string]domain.Question),
		options:   make(map[string]domain.Option),
		players:   make(map[string]domain.Player),
		responses: make(map[string]domain.Response),
	}
}

func (r *Repository) CreateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *Repository) GetSession(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *Repository) UpdateSessionStatus(_ context.Context, id string, status domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Status = status
	r.sessions[id] = session
	return nil
}

func (r *Repository) CreateQuestion(_ context.Context, q *domain.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions[q.ID] = *q
	return nil
}

func (r *Repository) CreateOption(_ context.Context, o *domain.Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[o.ID] = *o
	return nil
}

func (r *Repository) CountQuestions(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, q := range r.questions {
		if q.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (r *Repository) QuestionByOrdinal(_ context.Context, sessionID string, index int) (domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ordered := r.questionsForSessionLocked(sessionID)
	if index < 0 || index >= len(ordered) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return ordered[index], nil
}

func (r *Repository) QuestionByID(_ context.Context, id string) (domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	question, ok := r.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return question, nil
}

func (r *Repository) OptionsForQuestion(_ context.Context, questionID string) ([]domain.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	options := make([]domain.Option, 0, 4)
	for _, o := range r.options {
		if o.QuestionID == questionID {
			options = append(options, o)
		}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Position < options[j].Position })
	return options, nil
}

func (r *Repository) OptionByID(_ context.Context, questionID, optionID string) (domain.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	option, ok := r.options[optionID]
	if !ok || option.QuestionID != questionID {
		return domain.Option{}, domain.ErrOptionNotFound
	}
	return option, nil
}

func (r *Repository) CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error) {
	options, err := r.OptionsForQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(options))
	for _, o := range options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) CreatePlayer(_ context.Context, p *domain.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID] = *p
	return nil
}

func (r *Repository) PlayerByIdentity(_ context.Context, sessionID, identity string) (domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.SessionID == sessionID && p.Identity == identity {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (r *Repository) SetPlayerScore(_ context.Context, playerID string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[playerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	player.Score = score
	r.players[playerID] = player
	return nil
}

func (r *Repository) PlayersInSession(_ context.Context, sessionID string) ([]domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]domain.Player, 0, 8)
	for _, p := range r.players {
		if p.SessionID == sessionID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinedAt.Before(players[j].JoinedAt) })
	return players, nil
}

func (r *Repository) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	players, err := r.PlayersInSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(players), nil
}

func (r *Repository) Response(_ context.Context, playerID, questionID string) (domain.Response, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, resp := range r.responses {
		if resp.PlayerID == playerID && resp.QuestionID == questionID {
			return resp, true, nil
		}
	}
	return domain.Response{}, false, nil
}

func (r *Repository) Responses(_ context.Context, playerID, questionID string) ([]domain.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]domain.Response, 0, 4)
	for _, resp := range r.responses {
		if resp.PlayerID == playerID && resp.QuestionID == questionID {
			rows = append(rows, resp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OptionID < rows[j].OptionID })
	return rows, nil
}

func (r *Repository) ReplaceResponse(_ context.Context, resp *domain.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responses[resp.ID]; !ok {
		return domain.ErrQuestionNotFound
	}
	r.responses[resp.ID] = *resp
	return nil
}

func (r *Repository) DeleteResponses(_ context.Context, playerID, questionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, resp := range r.responses {
		if resp.PlayerID == playerID && resp.QuestionID == questionID {
			delete(r.responses, id)
		}
	}
	return nil
}

func (r *Repository) InsertResponse(_ context.Context, resp *domain.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[resp.ID] = *resp
	return nil
}

func (r *Repository) CountDistinctResponders(_ context.Context, questionID, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	distinct := make(map[string]struct{})
	for _, resp := range r.responses {
		if resp.QuestionID == questionID && resp.SessionID == sessionID {
			distinct[resp.PlayerID] = struct{}{}
		}
	}
	return len(distinct), nil
}

func (r *Repository) Leaderboard(ctx context.Context, sessionID string) ([]domain.Player, error) {
	players, err := r.PlayersInSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	return players, nil
}

func (r *Repository) questionsForSessionLocked(sessionID string) []domain.Question {
	ordered := make([]domain.Question, 0, 8)
	for _, q := range r.questions {
		if q.SessionID == sessionID {
			ordered = append(ordered, q)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	return ordered
}
