package repository_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"practest-backend/internal/database"
	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

func TestPostgresRepos_EndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, cleanup := startPostgres(t, ctx)
	defer cleanup()

	pool, err := database.NewPostgresPool(dsn)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	if err := database.RunMigrations(ctx, pool, database.Migrations(), log); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run is a no-op
	if err := database.RunMigrations(ctx, pool, database.Migrations(), log); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	tests := repository.NewTestRepo(pool)
	attempts := repository.NewAttemptRepo(pool)
	userID := uuid.New()

	limit := 10
	test := &models.Test{
		UserID:           userID,
		Title:            "Photosynthesis",
		Difficulty:       "easy",
		TimeLimitMinutes: &limit,
		Questions: []models.Question{
			{ID: "q1", Type: models.QuestionMCQ, Prompt: "Gas absorbed?", Points: 2,
				Options: []string{"O2", "CO2"}, CorrectOption: "CO2"},
			{ID: "q2", Type: models.QuestionEssay, Prompt: "Explain the light reactions.", Points: 5},
		},
	}
	if err := tests.CreateTest(ctx, test); err != nil {
		t.Fatalf("create test: %v", err)
	}

	got, err := tests.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("get test: %v", err)
	}
	if len(got.Questions) != 2 || got.Questions[0].CorrectOption != "CO2" || *got.TimeLimitMinutes != 10 {
		t.Fatalf("unexpected test round trip: %+v", got)
	}

	token := uuid.New()
	attempt := &models.Attempt{
		TestID:           &test.ID,
		TestTitle:        test.Title,
		UserID:           userID,
		SubmissionToken:  token,
		Answers:          map[string]string{"q1": "CO2", "q2": "chlorophyll absorbs light"},
		TimeSpentSeconds: 120,
		Score:            5,
		TotalPoints:      7,
		Percentage:       71,
		QuestionResults: []models.QuestionResult{
			{QuestionID: "q1", Type: models.QuestionMCQ, UserAnswer: "CO2", IsCorrect: true, PointsEarned: 2, PointsPossible: 2},
			{QuestionID: "q2", Type: models.QuestionEssay, UserAnswer: "chlorophyll absorbs light", IsCorrect: true, PointsEarned: 3, PointsPossible: 5},
		},
	}
	stored, created, err := attempts.CreateAttempt(ctx, attempt)
	if err != nil || !created {
		t.Fatalf("create attempt = %v, %v", created, err)
	}

	dup := *attempt
	dup.ID = uuid.Nil
	dup.Score = 7
	again, created, err := attempts.CreateAttempt(ctx, &dup)
	if err != nil || created {
		t.Fatalf("duplicate create = %v, %v; want existing", created, err)
	}
	if again.ID != stored.ID || again.Score != 5 {
		t.Fatalf("expected original attempt back, got %+v", again)
	}

	summaries, err := tests.ListTests(ctx, userID)
	if err != nil {
		t.Fatalf("list tests: %v", err)
	}
	if len(summaries) != 1 || summaries[0].AttemptCount != 1 || summaries[0].LastAttempt == nil || summaries[0].LastAttempt.Percentage != 71 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	if err := tests.DeleteTest(ctx, test.ID); err != nil {
		t.Fatalf("delete test: %v", err)
	}
	if _, err := tests.GetTest(ctx, test.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	detached, err := attempts.GetAttemptByToken(ctx, token)
	if err != nil {
		t.Fatalf("attempt should survive deletion: %v", err)
	}
	if detached.TestID != nil || detached.TestTitle != "Photosynthesis" || detached.Answers["q1"] != "CO2" {
		t.Fatalf("unexpected detached attempt: %+v", detached)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "practest", "POSTGRES_PASSWORD": "practest", "POSTGRES_DB": "practest"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://practest:practest@%s:%s/practest?sslmode=disable", host, port.Port())

	// the port opens before postgres accepts connections
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		pool, err := pgxpool.New(ctx, dsn)
		if err == nil {
			pingErr := pool.Ping(ctx)
			pool.Close()
			if pingErr == nil {
				break
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
