package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"practest-backend/internal/models"
	"practest-backend/internal/repository"
)

// Locker is a cross-instance mutex; repository.LockRepo in production.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type GenerationConfig struct {
	MinQuestions   int
	MaxQuestions   int
	Timeout        time.Duration
	MaxUploadBytes int64
}

// GenerationService turns study content into a persisted Test. A call either
// stores one fully valid Test or returns an error and stores nothing.
type GenerationService struct {
	model     TextModel
	tests     repository.TestStore
	extractor *FileExtractService
	locks     Locker
	cfg       GenerationConfig
	log       logrus.FieldLogger

	inflight  singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight
}

// flight is one shared generation call. It runs on its own context, which is
// cancelled only once every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	callers []context.Context
}

// abandoned returns the cancellation error when no caller is still waiting.
func (s *GenerationService) abandoned(f *flight) error {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	var err error
	for _, c := range f.callers {
		if c.Err() == nil {
			return nil
		}
		err = c.Err()
	}
	return err
}

// join registers ctx on the flight for key and returns a function that
// unregisters it.
func (s *GenerationService) join(ctx context.Context, key string) (*flight, func()) {
	s.flightsMu.Lock()
	f := s.flights[key]
	if f == nil || f.ctx.Err() != nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}
	f.callers = append(f.callers, ctx)
	s.flightsMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if s.abandoned(f) != nil {
			f.cancel()
		}
	})
	return f, func() {
		stop()
		s.flightsMu.Lock()
		for i, c := range f.callers {
			if c == ctx {
				f.callers = append(f.callers[:i], f.callers[i+1:]...)
				break
			}
		}
		if len(f.callers) == 0 {
			f.cancel()
			if s.flights[key] == f {
				delete(s.flights, key)
			}
		}
		s.flightsMu.Unlock()
	}
}

// NewGenerationService wires the generation client. locks may be nil, in which
// case duplicate suppression is limited to this process.
func NewGenerationService(
	model TextModel,
	tests repository.TestStore,
	extractor *FileExtractService,
	locks Locker,
	cfg GenerationConfig,
	log logrus.FieldLogger,
) *GenerationService {
	return &GenerationService{
		model:     model,
		tests:     tests,
		extractor: extractor,
		locks:     locks,
		cfg:       cfg,
		log:       log.WithField("component", "generation"),
		flights:   make(map[string]*flight),
	}
}

func (s *GenerationService) Generate(ctx context.Context, userID uuid.UUID, req models.GenerateTestRequest) (*models.Test, error) {
	content, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	key := dedupeKey(userID, req, content)
	f, leave := s.join(ctx, key)
	defer leave()
	v, err, shared := s.inflight.Do(fmt.Sprintf("%s#%p", key, f), func() (interface{}, error) {
		return s.generate(f, userID, req, content, key)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.WithField("user_id", userID).Debug("Joined in-flight generation")
	}
	return v.(*models.Test), nil
}

// validate checks the request and resolves the content to generate from.
// No model call happens unless it succeeds.
func (s *GenerationService) validate(req *models.GenerateTestRequest) (string, error) {
	fields := map[string]string{}
	if err := ValidateStruct(req); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return "", err
		}
		for k, v := range ve.Fields {
			fields[k] = v
		}
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		fields["title"] = "is required"
	}
	if req.NumQuestions < s.cfg.MinQuestions || req.NumQuestions > s.cfg.MaxQuestions {
		fields["num_questions"] = fmt.Sprintf("must be between %d and %d", s.cfg.MinQuestions, s.cfg.MaxQuestions)
	}
	if req.Difficulty == "" {
		req.Difficulty = "medium"
	}

	var content string
	switch {
	case len(req.FileBytes) > 0:
		if s.cfg.MaxUploadBytes > 0 && int64(len(req.FileBytes)) > s.cfg.MaxUploadBytes {
			fields["file"] = fmt.Sprintf("must be at most %d bytes", s.cfg.MaxUploadBytes)
			break
		}
		text, err := s.extractor.ExtractText(req.FileName, req.FileBytes)
		if err != nil {
			fields["file"] = err.Error()
			break
		}
		content = text
	default:
		content = strings.TrimSpace(req.Content)
		if content == "" {
			fields["content"] = "is required"
		}
	}

	if len(fields) > 0 {
		return "", &ValidationError{Fields: fields}
	}
	return content, nil
}

func (s *GenerationService) generate(f *flight, userID uuid.UUID, req models.GenerateTestRequest, content, key string) (*models.Test, error) {
	ctx := f.ctx
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "num_questions": req.NumQuestions})

	if s.locks != nil {
		lockKey := "generate:" + key
		ok, err := s.locks.Acquire(ctx, lockKey, s.cfg.Timeout+30*time.Second)
		switch {
		case err != nil:
			log.WithError(err).Warn("Generation lock unavailable, continuing without it")
		case !ok:
			return nil, &ConflictError{Message: "A test is already being generated from this content"}
		default:
			defer func() {
				if err := s.locks.Release(context.Background(), lockKey); err != nil {
					log.WithError(err).Warn("Failed to release generation lock")
				}
			}()
		}
	}

	genCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.model.GenerateText(genCtx, buildTestPrompt(req, content))
	if err != nil {
		if err := s.abandoned(f); err != nil {
			return nil, err
		}
		return nil, &GenerationError{Reason: ReasonUpstream, Message: "question service request failed", Err: err}
	}

	questions, err := parseGeneratedQuestions(raw, req.QuestionTypes, req.NumQuestions)
	if err != nil {
		log.WithError(err).Warn("Unparsable generation output")
		return nil, &GenerationError{Reason: ReasonMalformed, Message: "question service returned malformed output", Err: err}
	}
	if len(questions) == 0 {
		return nil, &GenerationError{Reason: ReasonNoQuestions, Message: "no valid questions could be generated from this content"}
	}

	// Callers that all gave up must not get a Test stored behind their back.
	if err := s.abandoned(f); err != nil {
		return nil, err
	}

	test := &models.Test{
		UserID:           userID,
		Title:            req.Title,
		Difficulty:       req.Difficulty,
		Questions:        questions,
		TimeLimitMinutes: req.TimeLimitMinutes,
	}
	if err := s.tests.CreateTest(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to save test: %w", err)
	}

	log.WithFields(logrus.Fields{
		"test_id":     test.ID,
		"generated":   len(questions),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Test generated")
	return test, nil
}

// dedupeKey identifies "the same generation request" for one user.
func dedupeKey(userID uuid.UUID, req models.GenerateTestRequest, content string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%v\x00%s\x00", req.Title, req.NumQuestions, req.QuestionTypes, req.Difficulty)
	if req.TimeLimitMinutes != nil {
		fmt.Fprintf(h, "%d", *req.TimeLimitMinutes)
	}
	h.Write([]byte{0})
	h.Write([]byte(content))
	return userID.String() + ":" + hex.EncodeToString(h.Sum(nil))
}

func buildTestPrompt(req models.GenerateTestRequest, content string) string {
	var b strings.Builder

	b.WriteString("You are an expert educational assessor. Write a practice test based on the following content.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON array. No preamble, no markdown, no backticks.\n\n")
	b.WriteString(fmt.Sprintf("Generate exactly %d questions.\n", req.NumQuestions))

	types := make([]string, 0, len(req.QuestionTypes))
	for _, t := range req.QuestionTypes {
		types = append(types, string(t))
	}
	b.WriteString(fmt.Sprintf("Allowed question types: %s. Mix them when more than one is allowed.\n", strings.Join(types, ", ")))

	b.WriteString(fmt.Sprintf("Difficulty: %s\n", req.Difficulty))
	switch req.Difficulty {
	case "easy":
		b.WriteString("Easy = direct recall from text.\n")
	case "medium":
		b.WriteString("Medium = application of concepts.\n")
	case "hard":
		b.WriteString("Hard = analysis, synthesis, or inference beyond what is explicitly stated.\n")
	}

	b.WriteString(`
JSON schema per question:
{"type": "mcq"|"short_answer"|"essay", "prompt": "string", "points": int, "options": ["string"], "correct_option": "string", "rubric_hint": "string"}

For mcq: 4 options, correct_option must be copied exactly from options, points 1-2.
For short_answer: omit options and correct_option, give a one-sentence rubric_hint, points 2-3.
For essay: omit options and correct_option, rubric_hint lists the key points expected, points 5.
`)

	b.WriteString("\n---CONTENT---\n")
	b.WriteString(content)
	b.WriteString("\n---END---\n")

	return b.String()
}

// generatedQuestion is the loose shape the model actually returns.
type generatedQuestion struct {
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	Question      string   `json:"question"`
	Points        int      `json:"points"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correct_option"`
	CorrectIndex  *int     `json:"correct_index"`
	RubricHint    string   `json:"rubric_hint"`
}

func parseGeneratedQuestions(raw string, allowed []models.QuestionType, want int) ([]models.Question, error) {
	items, err := decodeGenerated(stripCodeFence(raw))
	if err != nil {
		return nil, err
	}
	return repairQuestions(items, allowed, want), nil
}

func decodeGenerated(text string) ([]generatedQuestion, error) {
	var items []generatedQuestion
	err := json.Unmarshal([]byte(text), &items)
	if err == nil {
		return items, nil
	}

	var wrapped struct {
		Questions []generatedQuestion `json:"questions"`
	}
	if json.Unmarshal([]byte(text), &wrapped) == nil && wrapped.Questions != nil {
		return wrapped.Questions, nil
	}

	// Try to extract JSON array
	if arr, ok := sliceJSON(text, '[', ']'); ok {
		if json.Unmarshal([]byte(arr), &items) == nil {
			return items, nil
		}
	}
	return nil, fmt.Errorf("decode questions: %w", err)
}

// repairQuestions keeps every item that can be made valid, assigns ids in
// order and truncates to want. Anything that cannot be repaired is dropped.
func repairQuestions(items []generatedQuestion, allowed []models.QuestionType, want int) []models.Question {
	allowedSet := make(map[models.QuestionType]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}

	valid := make([]models.Question, 0, len(items))
	for _, item := range items {
		if want > 0 && len(valid) == want {
			break
		}
		q, ok := repairQuestion(item)
		if !ok || !allowedSet[q.Type] {
			continue
		}
		q.ID = fmt.Sprintf("q%d", len(valid)+1)
		if q.Validate() != nil {
			continue
		}
		valid = append(valid, q)
	}
	return valid
}

func repairQuestion(item generatedQuestion) (models.Question, bool) {
	q := models.Question{
		Type:       normalizeQuestionType(item.Type),
		Prompt:     strings.TrimSpace(item.Prompt),
		Points:     item.Points,
		RubricHint: strings.TrimSpace(item.RubricHint),
	}
	if q.Prompt == "" {
		q.Prompt = strings.TrimSpace(item.Question)
	}
	if q.Prompt == "" || !q.Type.Valid() {
		return q, false
	}
	if q.Points <= 0 {
		q.Points = 1
	}
	if q.Type.IsFreeText() {
		return q, true
	}

	// correct_index refers to the options as the model wrote them.
	var indexed string
	if i := item.CorrectIndex; i != nil && *i >= 0 && *i < len(item.Options) {
		indexed = strings.TrimSpace(item.Options[*i])
	}

	seen := make(map[string]bool, len(item.Options))
	for _, opt := range item.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" || seen[opt] {
			continue
		}
		seen[opt] = true
		q.Options = append(q.Options, opt)
	}
	if len(q.Options) < 2 {
		return q, false
	}

	correct := strings.TrimSpace(item.CorrectOption)
	switch {
	case seen[correct]:
		q.CorrectOption = correct
	case correct != "":
		for _, opt := range q.Options {
			if strings.EqualFold(opt, correct) {
				q.CorrectOption = opt
				break
			}
		}
	}
	if q.CorrectOption == "" && seen[indexed] {
		q.CorrectOption = indexed
	}
	return q, q.CorrectOption != ""
}

func normalizeQuestionType(raw string) models.QuestionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mcq", "multiple_choice", "multiple-choice":
		return models.QuestionMCQ
	case "short_answer", "short-answer", "short":
		return models.QuestionShortAnswer
	case "essay", "long_answer":
		return models.QuestionEssay
	default:
		return models.QuestionType(raw)
	}
}
