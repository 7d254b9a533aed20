package models

import "github.com/google/uuid"

// WebSocket message types
const (
	EventSessionTick      = "session_tick"
	EventSessionExpired   = "session_expired"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type SessionTick struct {
	SessionID        uuid.UUID `json:"session_id"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type SessionEvent struct {
	SessionID uuid.UUID  `json:"session_id"`
	TestID    uuid.UUID  `json:"test_id"`
	AttemptID *uuid.UUID `json:"attempt_id,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
