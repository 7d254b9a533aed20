package results

import (
	"context"
	"fmt"

	"practest-backend/internal/grading"
	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

// PersistenceError means the attempt was graded but could not be stored.
// Retrying with the same submission token is safe and does not re-grade.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist attempt: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Aggregator struct {
	attempts repository.AttemptStore
}

func NewAggregator(attempts repository.AttemptStore) *Aggregator {
	return &Aggregator{attempts: attempts}
}

// PersistAndSummarize stores exactly one Attempt per submission token and
// returns its result view. If the token was already stored, the stored
// attempt wins.
func (a *Aggregator) PersistAndSummarize(ctx context.Context, test *models.Test, sub models.Submission, results []models.QuestionResult) (*models.AttemptSummary, error) {
	score, total, percentage := grading.Score(results)

	testID := test.ID
	attempt := &models.Attempt{
		TestID:           &testID,
		TestTitle:        test.Title,
		UserID:           sub.UserID,
		SubmissionToken:  sub.Token,
		Answers:          sub.Answers,
		TimeSpentSeconds: sub.TimeSpentSeconds,
		Score:            score,
		TotalPoints:      total,
		Percentage:       percentage,
		QuestionResults:  results,
		AutoSubmitted:    sub.AutoSubmitted,
	}

	stored, _, err := a.attempts.CreateAttempt(ctx, attempt)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	return Summarize(stored), nil
}

// Summarize builds the result view for a stored attempt. Correct and
// incorrect counts cover objective questions only.
func Summarize(a *models.Attempt) *models.AttemptSummary {
	summary := &models.AttemptSummary{
		Attempt:    a,
		Percentage: a.Percentage,
		Results:    a.QuestionResults,
	}
	for _, r := range a.QuestionResults {
		if r.Type.IsFreeText() {
			continue
		}
		if r.IsCorrect {
			summary.CorrectCount++
		} else {
			summary.IncorrectCount++
		}
	}
	return summary
}
