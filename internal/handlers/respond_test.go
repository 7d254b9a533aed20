package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
	"practest-backend/internal/results"
	"practest-backend/internal/services"
	"practest-backend/internal/session"
)

func TestHandleServiceError_Mapping(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"title": "is required"}}, http.StatusBadRequest, "VALIDATION_ERROR", false},
		{"upstream generation", &services.GenerationError{Reason: services.ReasonUpstream, Message: "down"}, http.StatusBadGateway, "GENERATION_UNAVAILABLE", true},
		{"malformed generation", &services.GenerationError{Reason: services.ReasonMalformed, Message: "bad"}, http.StatusUnprocessableEntity, "GENERATION_FAILED", false},
		{"no questions", &services.GenerationError{Reason: services.ReasonNoQuestions, Message: "none"}, http.StatusUnprocessableEntity, "GENERATION_FAILED", false},
		{"generation conflict", &services.ConflictError{Message: "busy"}, http.StatusConflict, "CONFLICT", false},
		{"persistence", &results.PersistenceError{Err: errors.New("db down")}, http.StatusServiceUnavailable, "PERSISTENCE_ERROR", true},
		{"wrapped not found", fmt.Errorf("load: %w", repository.ErrNotFound), http.StatusNotFound, "NOT_FOUND", false},
		{"session not found", session.ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
		{"session closed", session.ErrNotInProgress, http.StatusConflict, "SESSION_CLOSED", false},
		{"session expired", session.ErrExpired, http.StatusConflict, "SESSION_CLOSED", false},
		{"in flight", session.ErrSubmissionInFlight, http.StatusConflict, "SUBMISSION_IN_FLIGHT", true},
		{"unknown question", session.ErrUnknownQuestion, http.StatusBadRequest, "VALIDATION_ERROR", false},
		{"token reuse", results.ErrTokenConflict, http.StatusConflict, "TOKEN_CONFLICT", false},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", true},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()

			handleServiceError(rec, req, log, tt.err)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp models.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.code || resp.Error.Retryable != tt.retryable || resp.Error.RequestID != "req-1" {
				t.Fatalf("envelope = %+v", resp.Error)
			}
		})
	}
}
