package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"practest-backend/internal/middleware"
	"practest-backend/internal/repository"
	"practest-backend/internal/results"
)

type AttemptHandler struct {
	attempts repository.AttemptStore
	log      logrus.FieldLogger
}

func NewAttemptHandler(attempts repository.AttemptStore, log logrus.FieldLogger) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, log: log.WithField("handler", "attempts")}
}

// Get returns the attempt with its per-question results and counts.
func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "attempt")
	if !ok {
		return
	}
	attempt, err := h.attempts.GetAttempt(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if attempt.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return
	}
	writeJSON(w, http.StatusOK, results.Summarize(attempt))
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
