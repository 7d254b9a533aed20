// Package grading scores a set of answers against a test's questions.
//
// Objective (mcq) items are graded locally by exact match. Free-text items
// are delegated to a FreeTextGrader; a failure there degrades that one
// question to zero points and never affects the rest of the test.
package grading

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"practest-backend/internal/models"
)

// FreeTextRequest is what the external grading service sees for one answer.
type FreeTextRequest struct {
	QuestionID string
	Prompt     string
	RubricHint string
	UserAnswer string
	MaxPoints  int
}

// FreeTextGrade is the service's verdict, before clamping.
type FreeTextGrade struct {
	PointsEarned int
	Feedback     string
}

type FreeTextGrader interface {
	GradeFreeText(ctx context.Context, req FreeTextRequest) (FreeTextGrade, error)
}

const feedbackNoAnswer = "No answer provided."

type Config struct {
	// Concurrency bounds parallel free-text calls per submission.
	Concurrency int
	// MaxAttempts per free-text question before degrading; 1 disables retry.
	MaxAttempts   int
	RetryInterval time.Duration
	// PassRatio is the share of points at which a free-text answer counts as correct.
	PassRatio float64
}

type Pipeline struct {
	grader FreeTextGrader
	cfg    Config
	log    logrus.FieldLogger
}

func NewPipeline(grader FreeTextGrader, cfg Config, log logrus.FieldLogger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Pipeline{grader: grader, cfg: cfg, log: log.WithField("component", "grading")}
}

// Grade returns one result per question, in question order. It fails only
// when ctx ends before grading completes.
func (p *Pipeline) Grade(ctx context.Context, test *models.Test, answers map[string]string) ([]models.QuestionResult, error) {
	results := make([]models.QuestionResult, len(test.Questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, q := range test.Questions {
		answer := answers[q.ID]
		if !q.Type.IsFreeText() {
			results[i] = GradeObjective(q, answer)
			continue
		}
		g.Go(func() error {
			results[i] = p.gradeFreeText(gctx, test.ID.String(), q, answer)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GradeObjective scores an mcq answer: case-sensitive exact match, all or nothing.
func GradeObjective(q models.Question, answer string) models.QuestionResult {
	correct := answer != "" && answer == q.CorrectOption
	earned := 0
	if correct {
		earned = q.Points
	}
	return models.QuestionResult{
		QuestionID:     q.ID,
		Type:           q.Type,
		UserAnswer:     answer,
		IsCorrect:      correct,
		PointsEarned:   earned,
		PointsPossible: q.Points,
	}
}

func (p *Pipeline) gradeFreeText(ctx context.Context, testID string, q models.Question, answer string) models.QuestionResult {
	result := models.QuestionResult{
		QuestionID:     q.ID,
		Type:           q.Type,
		UserAnswer:     answer,
		PointsPossible: q.Points,
	}
	if strings.TrimSpace(answer) == "" {
		result.Feedback = feedbackNoAnswer
		return result
	}

	req := FreeTextRequest{
		QuestionID: q.ID,
		Prompt:     q.Prompt,
		RubricHint: q.RubricHint,
		UserAnswer: answer,
		MaxPoints:  q.Points,
	}

	var grade FreeTextGrade
	attempts := 0
	op := func() error {
		attempts++
		var err error
		grade, err = p.grader.GradeFreeText(ctx, req)
		return err
	}
	if err := backoff.Retry(op, p.retryPolicy(ctx)); err != nil {
		if ctx.Err() == nil {
			p.log.WithFields(logrus.Fields{
				"test_id":     testID,
				"question_id": q.ID,
				"attempts":    attempts,
			}).WithError(err).Warn("Free-text grading unavailable, scoring zero")
		}
		result.Feedback = models.FeedbackGradingUnavailable
		return result
	}

	result.PointsEarned = clamp(grade.PointsEarned, 0, q.Points)
	result.Feedback = grade.Feedback
	result.IsCorrect = float64(result.PointsEarned) >= p.cfg.PassRatio*float64(q.Points)
	return result
}

func (p *Pipeline) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if p.cfg.RetryInterval > 0 {
		b.InitialInterval = p.cfg.RetryInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Score aggregates results. percentage is round(100*score/total), or 0 for an
// empty test.
func Score(results []models.QuestionResult) (score, total, percentage int) {
	for _, r := range results {
		score += r.PointsEarned
		total += r.PointsPossible
	}
	if total <= 0 {
		return score, total, 0
	}
	percentage = int(math.Round(100 * float64(score) / float64(total)))
	return score, total, clamp(percentage, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
