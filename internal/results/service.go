// Package results turns a frozen submission into exactly one stored Attempt.
package results

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

// ErrTokenConflict is returned when a submission token was already used by a
// different user or test.
var ErrTokenConflict = errors.New("submission token already used for a different attempt")

type Grader interface {
	Grade(ctx context.Context, test *models.Test, answers map[string]string) ([]models.QuestionResult, error)
}

// Service grades and persists submissions idempotently. Graded results are
// cached by token until the attempt is stored, so a retry after a storage
// failure goes straight to persistence.
type Service struct {
	attempts   repository.AttemptStore
	grader     Grader
	cache      repository.GradeCache
	aggregator *Aggregator
	log        logrus.FieldLogger
}

func NewService(attempts repository.AttemptStore, grader Grader, cache repository.GradeCache, log logrus.FieldLogger) *Service {
	return &Service{
		attempts:   attempts,
		grader:     grader,
		cache:      cache,
		aggregator: NewAggregator(attempts),
		log:        log.WithField("component", "results"),
	}
}

func (s *Service) Submit(ctx context.Context, test *models.Test, sub models.Submission) (*models.AttemptSummary, error) {
	sub = normalize(test, sub)
	log := s.log.WithFields(logrus.Fields{
		"test_id":          test.ID,
		"user_id":          sub.UserID,
		"submission_token": sub.Token,
	})

	existing, err := s.attempts.GetAttemptByToken(ctx, sub.Token)
	switch {
	case err == nil:
		if existing.UserID != sub.UserID || existing.TestID == nil || *existing.TestID != test.ID {
			return nil, ErrTokenConflict
		}
		log.Debug("Duplicate submission, returning stored attempt")
		return Summarize(existing), nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, &PersistenceError{Err: err}
	}

	results, cached, err := s.cachedResults(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !cached {
		results, err = s.grader.Grade(ctx, test, sub.Answers)
		if err != nil {
			return nil, err
		}
		graded := &models.GradedSubmission{
			TestID:        sub.TestID,
			UserID:        sub.UserID,
			AnswersDigest: models.AnswersDigest(sub.Answers),
			Results:       results,
		}
		if err := s.cache.Put(ctx, sub.Token, graded); err != nil {
			log.WithError(err).Warn("Grade cache write failed")
		}
	}

	summary, err := s.aggregator.PersistAndSummarize(ctx, test, sub, results)
	if err != nil {
		log.WithError(err).Error("Attempt not stored, grades kept for retry")
		return nil, err
	}
	if err := s.cache.Delete(ctx, sub.Token); err != nil {
		log.WithError(err).Debug("Grade cache cleanup failed")
	}

	log.WithFields(logrus.Fields{
		"attempt_id": summary.Attempt.ID,
		"score":      summary.Attempt.Score,
		"total":      summary.Attempt.TotalPoints,
		"cached":     cached,
	}).Info("Attempt recorded")
	return summary, nil
}

// cachedResults returns grades kept from an earlier try of the same token.
// Grades cached for another test or user make the token a conflict; grades
// for different answers are discarded.
func (s *Service) cachedResults(ctx context.Context, sub models.Submission) ([]models.QuestionResult, bool, error) {
	graded, err := s.cache.Get(ctx, sub.Token)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, false, nil
	case err != nil:
		s.log.WithError(err).Warn("Grade cache read failed")
		return nil, false, nil
	}
	if graded.TestID != sub.TestID || graded.UserID != sub.UserID {
		return nil, false, ErrTokenConflict
	}
	if !graded.Matches(sub) {
		s.log.WithField("submission_token", sub.Token).Info("Answers changed since last try, regrading")
		return nil, false, nil
	}
	return graded.Results, true, nil
}

// normalize keeps answers for this test's questions only and bounds the
// reported time.
func normalize(test *models.Test, sub models.Submission) models.Submission {
	answers := make(map[string]string, len(sub.Answers))
	for _, q := range test.Questions {
		if v, ok := sub.Answers[q.ID]; ok {
			answers[q.ID] = v
		}
	}
	sub.Answers = answers
	sub.TestID = test.ID

	if sub.TimeSpentSeconds < 0 {
		sub.TimeSpentSeconds = 0
	}
	if limit := test.TimeLimit(); limit > 0 && sub.TimeSpentSeconds > int(limit.Seconds()) {
		sub.TimeSpentSeconds = int(limit.Seconds())
	}
	return sub
}
