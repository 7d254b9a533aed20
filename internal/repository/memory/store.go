package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

// Store is an in-process TestStore and AttemptStore (useful for tests/demos).
// Records are copied on the way in and out so callers cannot mutate stored state.
type Store struct {
	clock func() time.Time

	mu       sync.RWMutex
	tests    map[uuid.UUID]*models.Test
	attempts map[uuid.UUID]*models.Attempt
	byToken  map[uuid.UUID]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		clock:    time.Now,
		tests:    make(map[uuid.UUID]*models.Test),
		attempts: make(map[uuid.UUID]*models.Attempt),
		byToken:  make(map[uuid.UUID]uuid.UUID),
	}
}

var (
	_ repository.TestStore    = (*Store)(nil)
	_ repository.AttemptStore = (*Store)(nil)
)

func (s *Store) CreateTest(_ context.Context, t *models.Test) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = copyTest(t)
	return nil
}

func (s *Store) GetTest(_ context.Context, id uuid.UUID) (*models.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyTest(t), nil
}

func (s *Store) ListTests(_ context.Context, userID uuid.UUID) ([]*models.TestSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := []*models.TestSummary{}
	for _, t := range s.tests {
		if t.UserID != userID {
			continue
		}
		summary := &models.TestSummary{
			ID:               t.ID,
			Title:            t.Title,
			Difficulty:       t.Difficulty,
			QuestionCount:    len(t.Questions),
			TotalPoints:      t.TotalPoints(),
			TimeLimitMinutes: t.TimeLimitMinutes,
			CreatedAt:        t.CreatedAt,
		}
		for _, a := range s.attemptsForTest(t.ID) {
			summary.AttemptCount++
			if summary.LastAttempt == nil || a.CreatedAt.After(summary.LastAttempt.CreatedAt) {
				summary.LastAttempt = a.Brief()
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt.After(summaries[j].CreatedAt) })
	return summaries, nil
}

func (s *Store) DeleteTest(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tests[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tests, id)
	for _, a := range s.attempts {
		if a.TestID != nil && *a.TestID == id {
			a.TestID = nil
		}
	}
	return nil
}

func (s *Store) CreateAttempt(_ context.Context, a *models.Attempt) (*models.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byToken[a.SubmissionToken]; ok {
		return copyAttempt(s.attempts[existingID]), false, nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = s.clock()
	s.attempts[a.ID] = copyAttempt(a)
	s.byToken[a.SubmissionToken] = a.ID
	return a, true, nil
}

func (s *Store) GetAttempt(_ context.Context, id uuid.UUID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAttempt(a), nil
}

func (s *Store) GetAttemptByToken(_ context.Context, token uuid.UUID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAttempt(s.attempts[id]), nil
}

func (s *Store) ListAttemptsByTest(_ context.Context, testID uuid.UUID) ([]*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := []*models.Attempt{}
	for _, a := range s.attemptsForTest(testID) {
		attempts = append(attempts, copyAttempt(a))
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].CreatedAt.After(attempts[j].CreatedAt) })
	return attempts, nil
}

// caller holds s.mu
func (s *Store) attemptsForTest(testID uuid.UUID) []*models.Attempt {
	var out []*models.Attempt
	for _, a := range s.attempts {
		if a.TestID != nil && *a.TestID == testID {
			out = append(out, a)
		}
	}
	return out
}

func copyTest(t *models.Test) *models.Test {
	out := *t
	out.Questions = make([]models.Question, len(t.Questions))
	for i, q := range t.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	if t.TimeLimitMinutes != nil {
		limit := *t.TimeLimitMinutes
		out.TimeLimitMinutes = &limit
	}
	return &out
}

func copyAttempt(a *models.Attempt) *models.Attempt {
	out := *a
	out.Answers = make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	out.QuestionResults = append([]models.QuestionResult(nil), a.QuestionResults...)
	if a.TestID != nil {
		id := *a.TestID
		out.TestID = &id
	}
	return &out
}
