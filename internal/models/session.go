package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionSetup      SessionState = "setup"
	SessionInProgress SessionState = "in_progress"
	SessionSubmitting SessionState = "submitting"
	SessionCompleted  SessionState = "completed"
	SessionFailed     SessionState = "failed"
)

// SessionView is the client-facing snapshot of a live session.
type SessionView struct {
	ID               uuid.UUID         `json:"id"`
	TestID           uuid.UUID         `json:"test_id"`
	State            SessionState      `json:"state"`
	CurrentIndex     int               `json:"current_index"`
	TotalQuestions   int               `json:"total_questions"`
	CurrentQuestion  *Question         `json:"current_question,omitempty"`
	Answers          map[string]string `json:"answers"`
	StartedAt        time.Time         `json:"started_at"`
	DeadlineAt       *time.Time        `json:"deadline_at"`
	RemainingSeconds *int              `json:"remaining_seconds"`
	LastError        string            `json:"last_error,omitempty"`
	Result           *AttemptSummary   `json:"result,omitempty"`
}

type RecordAnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Value      string `json:"value"`
}

type NavigateRequest struct {
	Delta int `json:"delta" validate:"oneof=-1 1"`
}
