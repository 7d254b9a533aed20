package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

// GradeCache is the in-process counterpart of repository.GradeCacheRepo.
type GradeCache struct {
	mu     sync.Mutex
	graded map[uuid.UUID]models.GradedSubmission
}

func NewGradeCache() *GradeCache {
	return &GradeCache{graded: make(map[uuid.UUID]models.GradedSubmission)}
}

func (c *GradeCache) Get(_ context.Context, token uuid.UUID) (*models.GradedSubmission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graded[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	g.Results = append([]models.QuestionResult(nil), g.Results...)
	return &g, nil
}

func (c *GradeCache) Put(_ context.Context, token uuid.UUID, graded *models.GradedSubmission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := *graded
	g.Results = append([]models.QuestionResult(nil), graded.Results...)
	c.graded[token] = g
	return nil
}

func (c *GradeCache) Delete(_ context.Context, token uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graded, token)
	return nil
}

// Locker is the in-process counterpart of repository.LockRepo.
type Locker struct {
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]time.Time
}

func NewLocker() *Locker {
	return &Locker{clock: time.Now, locks: make(map[string]time.Time)}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expires, ok := l.locks[key]; ok && expires.After(now) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

func (l *Locker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}
