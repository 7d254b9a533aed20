package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"practest-backend/internal/models"
)

type TestRepo struct {
	pool *pgxpool.Pool
}

func NewTestRepo(pool *pgxpool.Pool) *TestRepo {
	return &TestRepo{pool: pool}
}

func (r *TestRepo) CreateTest(ctx context.Context, t *models.Test) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	questionsBytes, err := json.Marshal(t.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}

	query := `INSERT INTO tests (id, user_id, title, difficulty, questions_json, question_count, total_points, time_limit_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		t.ID, t.UserID, t.Title, t.Difficulty, questionsBytes, len(t.Questions), t.TotalPoints(), t.TimeLimitMinutes,
	).Scan(&t.CreatedAt)
}

func (r *TestRepo) GetTest(ctx context.Context, id uuid.UUID) (*models.Test, error) {
	t := &models.Test{}
	var questionsBytes []byte
	query := `SELECT id, user_id, title, difficulty, questions_json, time_limit_minutes, created_at
		FROM tests WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.Title, &t.Difficulty, &questionsBytes, &t.TimeLimitMinutes, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questionsBytes, &t.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions for test %s: %w", id, err)
	}
	return t, nil
}

func (r *TestRepo) ListTests(ctx context.Context, userID uuid.UUID) ([]*models.TestSummary, error) {
	query := `SELECT t.id, t.title, t.difficulty, t.question_count, t.total_points, t.time_limit_minutes, t.created_at,
			(SELECT COUNT(*) FROM attempts a WHERE a.test_id = t.id),
			la.id, la.score, la.total_points, la.percentage, la.time_spent_seconds, la.created_at
		FROM tests t
		LEFT JOIN LATERAL (
			SELECT id, score, total_points, percentage, time_spent_seconds, created_at
			FROM attempts WHERE test_id = t.id ORDER BY created_at DESC LIMIT 1
		) la ON TRUE
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []*models.TestSummary{}
	for rows.Next() {
		s := &models.TestSummary{}
		var (
			lastID        *uuid.UUID
			lastScore     *int
			lastTotal     *int
			lastPercent   *int
			lastTimeSpent *int
			lastCreatedAt *time.Time
		)
		err := rows.Scan(&s.ID, &s.Title, &s.Difficulty, &s.QuestionCount, &s.TotalPoints, &s.TimeLimitMinutes, &s.CreatedAt,
			&s.AttemptCount,
			&lastID, &lastScore, &lastTotal, &lastPercent, &lastTimeSpent, &lastCreatedAt)
		if err != nil {
			return nil, err
		}
		if lastID != nil {
			s.LastAttempt = &models.AttemptBrief{
				ID:               *lastID,
				Score:            *lastScore,
				TotalPoints:      *lastTotal,
				Percentage:       *lastPercent,
				TimeSpentSeconds: *lastTimeSpent,
				CreatedAt:        *lastCreatedAt,
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *TestRepo) DeleteTest(ctx context.Context, id uuid.UUID) error {
	// attempts.test_id is ON DELETE SET NULL, so history survives the test.
	tag, err := r.pool.Exec(ctx, "DELETE FROM tests WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
