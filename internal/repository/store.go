package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"practest-backend/internal/models"
)

// ErrNotFound is returned when a test or attempt does not exist.
var ErrNotFound = errors.New("record not found")

// TestStore persists generated tests.
type TestStore interface {
	CreateTest(ctx context.Context, t *models.Test) error
	GetTest(ctx context.Context, id uuid.UUID) (*models.Test, error)
	ListTests(ctx context.Context, userID uuid.UUID) ([]*models.TestSummary, error)
	// DeleteTest removes the test and detaches its attempts.
	DeleteTest(ctx context.Context, id uuid.UUID) error
}

// AttemptStore persists graded attempts, de-duplicated by submission token.
type AttemptStore interface {
	// CreateAttempt inserts a, or returns the attempt already stored under
	// a.SubmissionToken. created reports whether a new row was written.
	CreateAttempt(ctx context.Context, a *models.Attempt) (stored *models.Attempt, created bool, err error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error)
	GetAttemptByToken(ctx context.Context, token uuid.UUID) (*models.Attempt, error)
	ListAttemptsByTest(ctx context.Context, testID uuid.UUID) ([]*models.Attempt, error)
}
