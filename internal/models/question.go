package models

import (
	"fmt"
	"strings"
)

type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionShortAnswer QuestionType = "short_answer"
	QuestionEssay       QuestionType = "essay"
)

// QuestionTypes lists every supported variant in presentation order.
var QuestionTypes = []QuestionType{QuestionMCQ, QuestionShortAnswer, QuestionEssay}

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMCQ, QuestionShortAnswer, QuestionEssay:
		return true
	}
	return false
}

// IsFreeText reports whether answers of this type are graded by the external grading service.
func (t QuestionType) IsFreeText() bool {
	return t == QuestionShortAnswer || t == QuestionEssay
}

// Question is a single generated item. Variant fields are only meaningful for the
// matching Type: Options/CorrectOption for mcq, RubricHint for free-text types.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	Points        int          `json:"points"`
	Options       []string     `json:"options,omitempty"`
	CorrectOption string       `json:"correct_option,omitempty"`
	RubricHint    string       `json:"rubric_hint,omitempty"`
}

// Validate checks the model invariants: a known type, a prompt, positive points and,
// for mcq, at least two options with the correct option among them.
func (q Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("question %s: empty prompt", q.ID)
	}
	if q.Points <= 0 {
		return fmt.Errorf("question %s: points must be positive, got %d", q.ID, q.Points)
	}
	if q.Type != QuestionMCQ {
		return nil
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %s: mcq needs at least 2 options, got %d", q.ID, len(q.Options))
	}
	if !q.HasOption(q.CorrectOption) {
		return fmt.Errorf("question %s: correct option %q is not one of the options", q.ID, q.CorrectOption)
	}
	return nil
}

func (q Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// Redacted strips answer material so the question can be shown to a test taker.
func (q Question) Redacted() Question {
	q.CorrectOption = ""
	q.RubricHint = ""
	if q.Options != nil {
		q.Options = append([]string(nil), q.Options...)
	}
	return q
}
