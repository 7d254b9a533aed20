package grading

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
)

type fakeGrader struct {
	mu    sync.Mutex
	calls map[string]int
	grade func(req FreeTextRequest, call int) (FreeTextGrade, error)
}

func (g *fakeGrader) GradeFreeText(_ context.Context, req FreeTextRequest) (FreeTextGrade, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	g.calls[req.QuestionID]++
	call := g.calls[req.QuestionID]
	g.mu.Unlock()
	return g.grade(req, call)
}

func (g *fakeGrader) Calls(questionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[questionID]
}

func newTestPipeline(grader FreeTextGrader, maxAttempts int) *Pipeline {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewPipeline(grader, Config{
		Concurrency:   4,
		MaxAttempts:   maxAttempts,
		RetryInterval: time.Millisecond,
		PassRatio:     0.5,
	}, log)
}

func mcq(id, correct string, points int) models.Question {
	return models.Question{ID: id, Type: models.QuestionMCQ, Prompt: "prompt " + id, Points: points,
		Options: []string{"A", "B", "C", "D"}, CorrectOption: correct}
}

func freeText(id string, typ models.QuestionType, points int) models.Question {
	return models.Question{ID: id, Type: typ, Prompt: "explain " + id, Points: points, RubricHint: "hint " + id}
}

func TestGrade_ObjectiveOnlyScoresExactMatches(t *testing.T) {
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{mcq("q1", "B", 2), mcq("q2", "D", 2)}}
	p := newTestPipeline(&fakeGrader{}, 1)

	results, err := p.Grade(context.Background(), test, map[string]string{"q1": "B", "q2": "C"})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if !results[0].IsCorrect || results[0].PointsEarned != 2 {
		t.Fatalf("q1 should be correct for 2 points: %+v", results[0])
	}
	if results[1].IsCorrect || results[1].PointsEarned != 0 {
		t.Fatalf("q2 should be incorrect: %+v", results[1])
	}

	score, total, pct := Score(results)
	if score != 2 || total != 4 || pct != 50 {
		t.Fatalf("Score = %d/%d (%d%%), want 2/4 (50%%)", score, total, pct)
	}
}

func TestGradeObjective_ExactMatch(t *testing.T) {
	q := mcq("q1", "B", 3)
	tests := []struct {
		answer string
		want   bool
	}{
		{"B", true},
		{"b", false},
		{" B", false},
		{"", false},
	}
	for _, tt := range tests {
		got := GradeObjective(q, tt.answer)
		if got.IsCorrect != tt.want {
			t.Fatalf("answer %q: IsCorrect = %v, want %v", tt.answer, got.IsCorrect, tt.want)
		}
		if got.PointsPossible != 3 {
			t.Fatalf("PointsPossible = %d, want 3", got.PointsPossible)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		results []models.QuestionResult
		score   int
		total   int
		pct     int
	}{
		{"scenario C: no points", nil, 0, 0, 0},
		{"rounds half up", []models.QuestionResult{{PointsEarned: 1, PointsPossible: 8}}, 1, 8, 13},
		{"two thirds", []models.QuestionResult{{PointsEarned: 2, PointsPossible: 3}}, 2, 3, 67},
		{"full marks", []models.QuestionResult{{PointsEarned: 5, PointsPossible: 5}, {PointsEarned: 1, PointsPossible: 1}}, 6, 6, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, total, pct := Score(tt.results)
			if score != tt.score || total != tt.total || pct != tt.pct {
				t.Fatalf("Score = (%d, %d, %d), want (%d, %d, %d)", score, total, pct, tt.score, tt.total, tt.pct)
			}
		})
	}
}

func TestGrade_FreeTextClampedAndThresholded(t *testing.T) {
	grader := &fakeGrader{grade: func(req FreeTextRequest, _ int) (FreeTextGrade, error) {
		switch req.QuestionID {
		case "over":
			return FreeTextGrade{PointsEarned: 99, Feedback: "great"}, nil
		case "under":
			return FreeTextGrade{PointsEarned: -3, Feedback: "off topic"}, nil
		default:
			return FreeTextGrade{PointsEarned: 2, Feedback: "partial"}, nil
		}
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{
		freeText("over", models.QuestionEssay, 5),
		freeText("under", models.QuestionShortAnswer, 3),
		freeText("half", models.QuestionShortAnswer, 4),
	}}
	answers := map[string]string{"over": "a", "under": "b", "half": "c"}

	results, err := newTestPipeline(grader, 1).Grade(context.Background(), test, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if results[0].PointsEarned != 5 || !results[0].IsCorrect {
		t.Fatalf("over-award not clamped: %+v", results[0])
	}
	if results[1].PointsEarned != 0 || results[1].IsCorrect {
		t.Fatalf("negative award not clamped: %+v", results[1])
	}
	if results[2].PointsEarned != 2 || !results[2].IsCorrect || results[2].Feedback != "partial" {
		t.Fatalf("half marks should pass at ratio 0.5: %+v", results[2])
	}

	score, total, _ := Score(results)
	if score < 0 || score > total {
		t.Fatalf("score %d out of bounds [0, %d]", score, total)
	}
}

func TestGrade_PartialFailureIsContained(t *testing.T) {
	grader := &fakeGrader{grade: func(req FreeTextRequest, _ int) (FreeTextGrade, error) {
		if req.QuestionID == "q2" {
			return FreeTextGrade{}, errors.New("grading service down")
		}
		return FreeTextGrade{PointsEarned: 3, Feedback: "ok"}, nil
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{
		mcq("q1", "A", 1),
		freeText("q2", models.QuestionEssay, 5),
		freeText("q3", models.QuestionShortAnswer, 3),
	}}
	answers := map[string]string{"q1": "A", "q2": "long essay", "q3": "short"}

	results, err := newTestPipeline(grader, 3).Grade(context.Background(), test, answers)
	if err != nil {
		t.Fatalf("grade must not fail on one bad question: %v", err)
	}
	if results[1].PointsEarned != 0 || results[1].Feedback != models.FeedbackGradingUnavailable {
		t.Fatalf("failed question should degrade: %+v", results[1])
	}
	if results[0].PointsEarned != 1 || results[2].PointsEarned != 3 {
		t.Fatalf("other questions must still score: %+v", results)
	}
	if grader.Calls("q2") != 3 {
		t.Fatalf("expected 3 attempts before degrading, got %d", grader.Calls("q2"))
	}
}

func TestGrade_RetryRecovers(t *testing.T) {
	grader := &fakeGrader{grade: func(_ FreeTextRequest, call int) (FreeTextGrade, error) {
		if call == 1 {
			return FreeTextGrade{}, errors.New("transient")
		}
		return FreeTextGrade{PointsEarned: 4, Feedback: "good"}, nil
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{freeText("q1", models.QuestionEssay, 5)}}

	results, err := newTestPipeline(grader, 3).Grade(context.Background(), test, map[string]string{"q1": "answer"})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if results[0].PointsEarned != 4 || grader.Calls("q1") != 2 {
		t.Fatalf("expected recovery on second call, got %+v after %d calls", results[0], grader.Calls("q1"))
	}
}

func TestGrade_BlankFreeTextSkipsService(t *testing.T) {
	grader := &fakeGrader{grade: func(FreeTextRequest, int) (FreeTextGrade, error) {
		return FreeTextGrade{PointsEarned: 5}, nil
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{freeText("q1", models.QuestionEssay, 5)}}

	results, err := newTestPipeline(grader, 1).Grade(context.Background(), test, map[string]string{"q1": "   "})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if results[0].PointsEarned != 0 || results[0].IsCorrect || grader.Calls("q1") != 0 {
		t.Fatalf("blank answer should score zero without a call: %+v", results[0])
	}
}

func TestGrade_PreservesQuestionOrder(t *testing.T) {
	grader := &fakeGrader{grade: func(req FreeTextRequest, _ int) (FreeTextGrade, error) {
		// finish in reverse order
		if req.QuestionID == "q1" {
			time.Sleep(20 * time.Millisecond)
		}
		return FreeTextGrade{PointsEarned: 1}, nil
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{
		freeText("q1", models.QuestionEssay, 2),
		mcq("q2", "C", 1),
		freeText("q3", models.QuestionShortAnswer, 2),
		freeText("q4", models.QuestionShortAnswer, 2),
	}}
	answers := map[string]string{"q1": "x", "q2": "C", "q3": "y", "q4": "z"}

	results, err := newTestPipeline(grader, 1).Grade(context.Background(), test, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	for i, want := range []string{"q1", "q2", "q3", "q4"} {
		if results[i].QuestionID != want {
			t.Fatalf("results[%d] = %s, want %s", i, results[i].QuestionID, want)
		}
	}
}

func TestGrade_CancelledContextFailsWholeOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	grader := &fakeGrader{grade: func(FreeTextRequest, int) (FreeTextGrade, error) {
		cancel()
		return FreeTextGrade{}, context.Canceled
	}}
	test := &models.Test{ID: uuid.New(), Questions: []models.Question{freeText("q1", models.QuestionEssay, 5)}}

	if _, err := newTestPipeline(grader, 3).Grade(ctx, test, map[string]string{"q1": "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
