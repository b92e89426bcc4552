// Package api exposes the conversational engine over a thin HTTP surface.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"arogya/internal/state"
	"arogya/internal/storage"
	"arogya/internal/supervisor"
)

// ChatService handles one conversational turn.
type ChatService interface {
	Handle(ctx context.Context, sessionID, message string) (*supervisor.Response, error)
}

// sessionRecord is the lightweight lifecycle record the /session endpoints
// create and delete. It is decoupled from the orchestration session, which
// exists only once a chat turn happens.
type sessionRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Server wires the chat and session endpoints onto a ServeMux.
type Server struct {
	chat     ChatService
	sessions storage.SessionStore
	mux      *http.ServeMux

	mu      sync.RWMutex
	records map[string]sessionRecord
}

func NewServer(chat ChatService, sessions storage.SessionStore) *Server {
	s := &Server{
		chat:     chat,
		sessions: sessions,
		mux:      http.NewServeMux(),
		records:  make(map[string]sessionRecord),
	}
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handler returns the root handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	res, err := s.chat.Handle(r.Context(), sessionID, req.Message)
	if err != nil {
		// The turn itself failed; the user still gets a session to retry in.
		log.Error().Err(err).Str("session", sessionID).Msg("chat turn failed")
		res = &supervisor.Response{
			Response:  "I'm sorry, something went wrong. Please try again.",
			SessionID: sessionID,
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// sessionView is the read model exposed over the API. Raw hand-off bags and
// execution pointers stay internal.
type sessionView struct {
	SessionID            string          `json:"session_id"`
	Messages             []state.Message `json:"messages"`
	CurrentIntent        string          `json:"current_intent,omitempty"`
	RiskLevel            string          `json:"risk_level"`
	ActiveWorkflow       string          `json:"active_workflow,omitempty"`
	AwaitingInput        bool            `json:"awaiting_input"`
	PendingQuestion      string          `json:"pending_question,omitempty"`
	SafetyFlags          []string        `json:"safety_flags,omitempty"`
	RequiresHumanReview  bool            `json:"requires_human_review,omitempty"`
	ReportedSymptoms     []string        `json:"reported_symptoms,omitempty"`
	SuggestedSpecialties []string        `json:"suggested_specialties,omitempty"`
	CreatedAt            string          `json:"created_at"`
	UpdatedAt            string          `json:"updated_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	rec := sessionRecord{
		SessionID: newSessionID(),
		UserID:    req.UserID,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.records[rec.SessionID] = rec
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.RLock()
	rec, hasRecord := s.records[id]
	s.mu.RUnlock()

	sess, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("session load failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}
	if sess == nil {
		// Created but not yet chatted in: only the lightweight record exists.
		if hasRecord {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, sessionView{
		SessionID:            sess.ID,
		Messages:             sess.Messages,
		CurrentIntent:        sess.CurrentIntent,
		RiskLevel:            string(sess.RiskLevel),
		ActiveWorkflow:       sess.ActiveWorkflow,
		AwaitingInput:        sess.AwaitingInput,
		PendingQuestion:      sess.PendingQuestion,
		SafetyFlags:          sess.SafetyFlags,
		RequiresHumanReview:  sess.RequiresHumanReview,
		ReportedSymptoms:     sess.ReportedSymptoms,
		SuggestedSpecialties: sess.SuggestedSpecialties,
		CreatedAt:            sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:            sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, hasRecord := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	exists, err := s.sessions.Exists(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("session lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}
	if !exists && !hasRecord {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Str("session", id).Msg("session delete failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func newSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
