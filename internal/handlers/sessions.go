package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"practest-backend/internal/middleware"
	"practest-backend/internal/models"
	"practest-backend/internal/repository"
	"practest-backend/internal/services"
	"practest-backend/internal/session"
)

// SessionHandler exposes server-held test sessions. Every route is scoped to
// the authenticated user; another user's session reads as not found.
type SessionHandler struct {
	sessions *session.Manager
	tests    repository.TestStore
	log      logrus.FieldLogger
}

func NewSessionHandler(sessions *session.Manager, tests repository.TestStore, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{sessions: sessions, tests: tests, log: log.WithField("handler", "sessions")}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	test, ok := loadOwnedTest(w, r, h.tests, h.log)
	if !ok {
		return
	}
	s, err := h.sessions.Start(middleware.GetUserID(r.Context()), test)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *SessionHandler) RecordAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req models.RecordAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if err := s.RecordAnswer(req.QuestionID, req.Value); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req models.NavigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if _, err := s.Navigate(req.Delta); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// Submit submits an in-progress session or retries a failed one.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	summary, err := s.Submit(r.Context())
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}
	if err := h.sessions.Abandon(middleware.GetUserID(r.Context()), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return nil, false
	}
	return s, true
}
