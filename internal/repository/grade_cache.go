package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"practest-backend/internal/models"
)

// GradeCache holds graded results for a submission token until the attempt
// is persisted, so a retried submit does not grade twice.
type GradeCache interface {
	Get(ctx context.Context, token uuid.UUID) (*models.GradedSubmission, error)
	Put(ctx context.Context, token uuid.UUID, graded *models.GradedSubmission) error
	Delete(ctx context.Context, token uuid.UUID) error
}

type GradeCacheRepo struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewGradeCacheRepo(redisClient *redis.Client, ttl time.Duration) *GradeCacheRepo {
	return &GradeCacheRepo{redis: redisClient, ttl: ttl}
}

// Get returns ErrNotFound on a miss.
func (r *GradeCacheRepo) Get(ctx context.Context, token uuid.UUID) (*models.GradedSubmission, error) {
	data, err := r.redis.Get(ctx, gradeKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var graded models.GradedSubmission
	if err := json.Unmarshal(data, &graded); err != nil {
		return nil, fmt.Errorf("failed to decode cached grades: %w", err)
	}
	return &graded, nil
}

func (r *GradeCacheRepo) Put(ctx context.Context, token uuid.UUID, graded *models.GradedSubmission) error {
	data, err := json.Marshal(graded)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, gradeKey(token), data, r.ttl).Err()
}

func (r *GradeCacheRepo) Delete(ctx context.Context, token uuid.UUID) error {
	return r.redis.Del(ctx, gradeKey(token)).Err()
}

func gradeKey(token uuid.UUID) string {
	return "grades:" + token.String()
}
