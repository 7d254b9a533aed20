package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"practest-backend/internal/grading"
)

var ErrUnparsableGrade = errors.New("unparsable grading response")

// FreeTextGrader asks the text model to score short-answer and essay responses.
type FreeTextGrader struct {
	model TextModel
}

func NewFreeTextGrader(model TextModel) *FreeTextGrader {
	return &FreeTextGrader{model: model}
}

var _ grading.FreeTextGrader = (*FreeTextGrader)(nil)

func (g *FreeTextGrader) GradeFreeText(ctx context.Context, req grading.FreeTextRequest) (grading.FreeTextGrade, error) {
	raw, err := g.model.GenerateText(ctx, buildGradingPrompt(req))
	if err != nil {
		return grading.FreeTextGrade{}, err
	}
	return parseGrade(raw)
}

func buildGradingPrompt(req grading.FreeTextRequest) string {
	var b strings.Builder

	b.WriteString("You are a fair and consistent examiner. Grade the student's answer to the question below.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON object. No preamble, no markdown, no backticks.\n\n")
	b.WriteString(fmt.Sprintf("Award an integer number of points from 0 to %d.\n", req.MaxPoints))
	b.WriteString("Give one or two sentences of feedback addressed to the student.\n")
	b.WriteString(`
JSON schema:
{"points_earned": int, "feedback": "string"}
`)

	b.WriteString("\n---QUESTION---\n")
	b.WriteString(req.Prompt)
	if req.RubricHint != "" {
		b.WriteString("\n---RUBRIC---\n")
		b.WriteString(req.RubricHint)
	}
	b.WriteString("\n---ANSWER---\n")
	b.WriteString(req.UserAnswer)
	b.WriteString("\n---END---\n")

	return b.String()
}

func parseGrade(raw string) (grading.FreeTextGrade, error) {
	var out struct {
		PointsEarned *float64 `json:"points_earned"`
		Feedback     string   `json:"feedback"`
	}

	text := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		obj, ok := sliceJSON(text, '{', '}')
		if !ok || json.Unmarshal([]byte(obj), &out) != nil {
			return grading.FreeTextGrade{}, fmt.Errorf("%w: %v", ErrUnparsableGrade, err)
		}
	}
	if out.PointsEarned == nil || math.IsNaN(*out.PointsEarned) || math.IsInf(*out.PointsEarned, 0) {
		return grading.FreeTextGrade{}, fmt.Errorf("%w: missing points_earned", ErrUnparsableGrade)
	}

	return grading.FreeTextGrade{
		PointsEarned: int(math.Round(*out.PointsEarned)),
		Feedback:     strings.TrimSpace(out.Feedback),
	}, nil
}
