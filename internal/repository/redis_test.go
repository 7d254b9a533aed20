package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"practest-backend/internal/models"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLockRepo_AcquireIsExclusive(t *testing.T) {
	mr, client := newMiniredis(t)
	locks := NewLockRepo(client)
	ctx := context.Background()

	ok, err := locks.Acquire(ctx, "generate:u1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want true", ok, err)
	}
	ok, err = locks.Acquire(ctx, "generate:u1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want false", ok, err)
	}

	if err := locks.Release(ctx, "generate:u1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("lock:generate:u1") {
		t.Fatalf("expected lock key to be removed")
	}
	ok, _ = locks.Acquire(ctx, "generate:u1", time.Minute)
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestLockRepo_Expires(t *testing.T) {
	mr, client := newMiniredis(t)
	locks := NewLockRepo(client)
	ctx := context.Background()

	if ok, _ := locks.Acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := locks.Acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("expected acquire after ttl")
	}
}

func TestGradeCacheRepo_RoundTrip(t *testing.T) {
	mr, client := newMiniredis(t)
	cache := NewGradeCacheRepo(client, time.Hour)
	ctx := context.Background()
	token := uuid.New()

	if _, err := cache.Get(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty cache Get err = %v, want ErrNotFound", err)
	}

	results := []models.QuestionResult{
		{QuestionID: "q1", Type: models.QuestionMCQ, UserAnswer: "B", IsCorrect: true, PointsEarned: 2, PointsPossible: 2},
		{QuestionID: "q2", Type: models.QuestionEssay, PointsEarned: 0, PointsPossible: 5, Feedback: models.FeedbackGradingUnavailable},
	}
	graded := &models.GradedSubmission{
		TestID:        uuid.New(),
		UserID:        uuid.New(),
		AnswersDigest: models.AnswersDigest(map[string]string{"q1": "B"}),
		Results:       results,
	}
	if err := cache.Put(ctx, token, graded); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("grades:" + token.String()); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}

	got, err := cache.Get(ctx, token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TestID != graded.TestID || got.UserID != graded.UserID || got.AnswersDigest != graded.AnswersDigest {
		t.Fatalf("cached submission identity lost: %+v", got)
	}
	if len(got.Results) != 2 || got.Results[0].QuestionID != "q1" || got.Results[1].Feedback != models.FeedbackGradingUnavailable {
		t.Fatalf("unexpected cached results: %+v", got.Results)
	}

	if err := cache.Delete(ctx, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cache.Get(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
