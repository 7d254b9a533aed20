package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
	"practest-backend/internal/results"
	"practest-backend/internal/services"
	"practest-backend/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func retryableResp(code, message string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Retryable = true
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid "+what+" ID", r))
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps domain errors onto the API error envelope.
func handleServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	var (
		validationErr  *services.ValidationError
		generationErr  *services.GenerationError
		conflictErr    *services.ConflictError
		notFoundErr    *services.NotFoundError
		persistenceErr *results.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationErr.Fields, r))
	case errors.As(err, &generationErr):
		if generationErr.Reason == services.ReasonUpstream {
			writeJSON(w, http.StatusBadGateway, retryableResp("GENERATION_UNAVAILABLE", generationErr.Message, r))
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("GENERATION_FAILED", generationErr.Message, r))
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", conflictErr.Message, r))
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFoundErr.Message, r))
	case errors.As(err, &persistenceErr):
		log.WithError(err).Error("Attempt could not be stored")
		writeJSON(w, http.StatusServiceUnavailable, retryableResp("PERSISTENCE_ERROR", "Your answers were graded but could not be saved. Retry to save them.", r))
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Resource not found", r))
	case errors.Is(err, session.ErrUnknownQuestion):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"question_id": err.Error()}, r))
	case errors.Is(err, session.ErrNotInProgress), errors.Is(err, session.ErrExpired):
		writeJSON(w, http.StatusConflict, errorResp("SESSION_CLOSED", err.Error(), r))
	case errors.Is(err, session.ErrSubmissionInFlight):
		writeJSON(w, http.StatusConflict, retryableResp("SUBMISSION_IN_FLIGHT", err.Error(), r))
	case errors.Is(err, results.ErrTokenConflict):
		writeJSON(w, http.StatusConflict, errorResp("TOKEN_CONFLICT", err.Error(), r))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, retryableResp("TIMEOUT", "The request took too long", r))
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusRequestTimeout, errorResp("CANCELLED", "Request cancelled", r))
	default:
		log.WithError(err).Error("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
