package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jiaweing/IoT-Quiz/internal/app"
	"github.com/jiaweing/IoT-Quiz/internal/domain"
)

// Server exposes the admin commands as thin HTTP wrappers around the engine.
type Server struct {
	engine *app.Engine
}

func NewServer(engine *app.Engine) *Server {
	return &Server{engine: engine}
}

// Register mounts all admin routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quiz/create", s.createQuiz)
	mux.HandleFunc("POST /api/quiz/auth", s.broadcastAuth)
	mux.HandleFunc("POST /api/quiz/start", s.startSession)
	mux.HandleFunc("POST /api/quiz/broadcast", s.broadcastQuestion)
	mux.HandleFunc("POST /api/quiz/close-question", s.closeQuestion)
	mux.HandleFunc("POST /api/quiz/end", s.endSession)
	mux.HandleFunc("POST /api/quiz/reset-scores", s.resetScores)
	mux.HandleFunc("POST /api/quiz/restart", s.restart)
	mux.HandleFunc("GET /api/quiz/leaderboard", s.leaderboard)
}

type createQuizRequest struct {
	SessionName string              `json:"sessionName"`
	TapSequence string              `json:"tapSequence"`
	Questions   []app.QuestionDraft `json:"quizQuestions"`
}

func (s *Server) createQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid payload")
		return
	}
	sessionID, err := s.engine.CreateSession(r.Context(), req.SessionName, req.TapSequence, req.Questions)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz created", "sessionId": sessionID})
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) broadcastAuth(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.BroadcastAuth(r.Context(), req.SessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Auth code broadcasted", "sessionId": req.SessionID})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.StartSession(r.Context(), req.SessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz session started", "sessionId": req.SessionID})
}

type broadcastRequest struct {
	SessionID     string `json:"sessionId"`
	QuestionIndex int    `json:"questionIndex"`
}

func (s *Server) broadcastQuestion(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		errorResponse(w, http.StatusBadRequest, "sessionId required")
		return
	}
	finished, err := s.engine.BroadcastQuestion(r.Context(), req.SessionID, req.QuestionIndex)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if finished {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Quiz finished", "finished": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Question broadcasted", "questionIndex": req.QuestionIndex})
}

type closeQuestionRequest struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
}

func (s *Server) closeQuestion(w http.ResponseWriter, r *http.Request) {
	var req closeQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.QuestionID == "" {
		errorResponse(w, http.StatusBadRequest, "sessionId and questionId required")
		return
	}
	if err := s.engine.CloseQuestion(r.Context(), req.SessionID, req.QuestionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Question closed", "questionId": req.QuestionID})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.EndSession(r.Context(), req.SessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz ended", "sessionId": req.SessionID})
}

func (s *Server) resetScores(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResetScores(r.Context(), req.SessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scores reset", "sessionId": req.SessionID})
}

// restart clones the session's content into a fresh pending session; the old
// session id is never re-activated.
func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	newID, err := s.engine.CloneSession(r.Context(), req.SessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz restarted with same questions", "sessionId": newID})
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "sessionId required")
		return
	}
	players, err := s.engine.Leaderboard(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, bool) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		errorResponse(w, http.StatusBadRequest, "sessionId required")
		return sessionRequest{}, false
	}
	return req, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionActive):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrQuestionNotFound):
		errorResponse(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("api error: %v", err)
		errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
