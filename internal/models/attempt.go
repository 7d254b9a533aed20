package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// FeedbackGradingUnavailable is recorded when the free-text grading service could not score an answer.
const FeedbackGradingUnavailable = "grading unavailable"

type QuestionResult struct {
	QuestionID     string       `json:"question_id"`
	Type           QuestionType `json:"type"`
	UserAnswer     string       `json:"user_answer"`
	IsCorrect      bool         `json:"is_correct"`
	PointsEarned   int          `json:"points_earned"`
	PointsPossible int          `json:"points_possible"`
	Feedback       string       `json:"feedback,omitempty"`
}

// Attempt is the persisted, immutable outcome of one submission. TestID is nil
// once the originating test has been deleted; TestTitle keeps the history readable.
type Attempt struct {
	ID               uuid.UUID         `json:"id"`
	TestID           *uuid.UUID        `json:"test_id"`
	TestTitle        string            `json:"test_title"`
	UserID           uuid.UUID         `json:"user_id"`
	SubmissionToken  uuid.UUID         `json:"submission_token"`
	Answers          map[string]string `json:"answers"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
	Score            int               `json:"score"`
	TotalPoints      int               `json:"total_points"`
	Percentage       int               `json:"percentage"`
	QuestionResults  []QuestionResult  `json:"question_results"`
	AutoSubmitted    bool              `json:"auto_submitted"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (a *Attempt) Brief() *AttemptBrief {
	return &AttemptBrief{
		ID:               a.ID,
		Score:            a.Score,
		TotalPoints:      a.TotalPoints,
		Percentage:       a.Percentage,
		TimeSpentSeconds: a.TimeSpentSeconds,
		CreatedAt:        a.CreatedAt,
	}
}

type AttemptBrief struct {
	ID               uuid.UUID `json:"id"`
	Score            int       `json:"score"`
	TotalPoints      int       `json:"total_points"`
	Percentage       int       `json:"percentage"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// AttemptSummary is the result view returned after a submission.
type AttemptSummary struct {
	Attempt        *Attempt         `json:"attempt"`
	Percentage     int              `json:"percentage"`
	CorrectCount   int              `json:"correct_count"`
	IncorrectCount int              `json:"incorrect_count"`
	Results        []QuestionResult `json:"question_results"`
}

// Submission is a frozen session: everything needed to grade and persist an attempt.
// Retrying a submission must reuse the same value, token included.
type Submission struct {
	Token            uuid.UUID         `json:"submission_token"`
	TestID           uuid.UUID         `json:"test_id"`
	UserID           uuid.UUID         `json:"user_id"`
	Answers          map[string]string `json:"answers"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
	AutoSubmitted    bool              `json:"auto_submitted"`
}

type SubmitRequest struct {
	SubmissionToken  uuid.UUID         `json:"submission_token" validate:"required"`
	Answers          map[string]string `json:"answers"`
	TimeSpentSeconds int               `json:"time_spent_seconds" validate:"min=0"`
	AutoSubmitted    bool              `json:"auto_submitted"`
}

// GradedSubmission is what the grade cache keeps for a token: the results
// plus the submission they were computed for.
type GradedSubmission struct {
	TestID        uuid.UUID        `json:"test_id"`
	UserID        uuid.UUID        `json:"user_id"`
	AnswersDigest string           `json:"answers_digest"`
	Results       []QuestionResult `json:"results"`
}

// Matches reports whether the cached grades belong to sub.
func (g *GradedSubmission) Matches(sub Submission) bool {
	return g.TestID == sub.TestID && g.UserID == sub.UserID && g.AnswersDigest == AnswersDigest(sub.Answers)
}

// AnswersDigest is a stable hash of an answer map.
func AnswersDigest(answers map[string]string) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%d:%s%d:%s", len(k), k, len(answers[k]), answers[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
