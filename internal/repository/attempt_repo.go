package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"practest-backend/internal/models"
)

type AttemptRepo struct {
	pool *pgxpool.Pool
}

func NewAttemptRepo(pool *pgxpool.Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

const attemptColumns = `id, test_id, test_title, user_id, submission_token, answers_json, time_spent_seconds,
	score, total_points, percentage, question_results_json, auto_submitted, created_at`

func (r *AttemptRepo) CreateAttempt(ctx context.Context, a *models.Attempt) (*models.Attempt, bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	answersBytes, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode answers: %w", err)
	}
	resultsBytes, err := json.Marshal(a.QuestionResults)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode question results: %w", err)
	}

	query := `INSERT INTO attempts (id, test_id, test_title, user_id, submission_token, answers_json, time_spent_seconds,
			score, total_points, percentage, question_results_json, auto_submitted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (submission_token) DO NOTHING
		RETURNING created_at`

	err = r.pool.QueryRow(ctx, query,
		a.ID, a.TestID, a.TestTitle, a.UserID, a.SubmissionToken, answersBytes, a.TimeSpentSeconds,
		a.Score, a.TotalPoints, a.Percentage, resultsBytes, a.AutoSubmitted,
	).Scan(&a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Token already used: the earlier insert wins.
		existing, getErr := r.GetAttemptByToken(ctx, a.SubmissionToken)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (r *AttemptRepo) GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error) {
	return r.getOne(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = $1", id)
}

func (r *AttemptRepo) GetAttemptByToken(ctx context.Context, token uuid.UUID) (*models.Attempt, error) {
	return r.getOne(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE submission_token = $1", token)
}

func (r *AttemptRepo) ListAttemptsByTest(ctx context.Context, testID uuid.UUID) ([]*models.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE test_id = $1 ORDER BY created_at DESC", testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*models.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *AttemptRepo) getOne(ctx context.Context, query string, arg any) (*models.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAttempt(row pgx.Row) (*models.Attempt, error) {
	a := &models.Attempt{}
	var answersBytes, resultsBytes []byte
	err := row.Scan(&a.ID, &a.TestID, &a.TestTitle, &a.UserID, &a.SubmissionToken, &answersBytes, &a.TimeSpentSeconds,
		&a.Score, &a.TotalPoints, &a.Percentage, &resultsBytes, &a.AutoSubmitted, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answersBytes, &a.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers for attempt %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(resultsBytes, &a.QuestionResults); err != nil {
		return nil, fmt.Errorf("failed to decode results for attempt %s: %w", a.ID, err)
	}
	return a, nil
}
