package models

import (
	"time"

	"github.com/google/uuid"
)

type Test struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Title            string     `json:"title"`
	Difficulty       string     `json:"difficulty"`
	Questions        []Question `json:"questions"`
	TimeLimitMinutes *int       `json:"time_limit_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TotalPoints is the maximum achievable score.
func (t *Test) TotalPoints() int {
	total := 0
	for _, q := range t.Questions {
		total += q.Points
	}
	return total
}

// TimeLimit returns the configured limit, or zero for untimed tests.
func (t *Test) TimeLimit() time.Duration {
	if t.TimeLimitMinutes == nil || *t.TimeLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(*t.TimeLimitMinutes) * time.Minute
}

func (t *Test) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Redacted returns a copy safe to send to a test taker.
func (t *Test) Redacted() *Test {
	out := *t
	out.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		out.Questions[i] = q.Redacted()
	}
	return &out
}

// TestSummary is a listing row: the test without its questions plus the latest attempt.
type TestSummary struct {
	ID               uuid.UUID     `json:"id"`
	Title            string        `json:"title"`
	Difficulty       string        `json:"difficulty"`
	QuestionCount    int           `json:"question_count"`
	TotalPoints      int           `json:"total_points"`
	TimeLimitMinutes *int          `json:"time_limit_minutes"`
	AttemptCount     int           `json:"attempt_count"`
	LastAttempt      *AttemptBrief `json:"last_attempt"`
	CreatedAt        time.Time     `json:"created_at"`
}

type GenerateTestRequest struct {
	Title            string         `json:"title" validate:"required,max=200"`
	Content          string         `json:"content"`
	NumQuestions     int            `json:"num_questions" validate:"required"`
	QuestionTypes    []QuestionType `json:"question_types" validate:"required,min=1,dive,oneof=mcq short_answer essay"`
	Difficulty       string         `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	TimeLimitMinutes *int           `json:"time_limit_minutes" validate:"omitempty,min=1,max=300"`

	// Set when content arrives as an uploaded file instead of text.
	FileName  string `json:"-"`
	FileBytes []byte `json:"-"`
}
