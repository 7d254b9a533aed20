package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/middleware"
	"practest-backend/internal/models"
	"practest-backend/internal/repository"
	"practest-backend/internal/services"
	"practest-backend/internal/session"
)

// TestGenerator is implemented by services.GenerationService.
type TestGenerator interface {
	Generate(ctx context.Context, userID uuid.UUID, req models.GenerateTestRequest) (*models.Test, error)
}

type TestHandler struct {
	generator      TestGenerator
	tests          repository.TestStore
	attempts       repository.AttemptStore
	submitter      session.Submitter
	maxUploadBytes int64
	log            logrus.FieldLogger
}

func NewTestHandler(
	generator TestGenerator,
	tests repository.TestStore,
	attempts repository.AttemptStore,
	submitter session.Submitter,
	maxUploadBytes int64,
	log logrus.FieldLogger,
) *TestHandler {
	return &TestHandler{
		generator:      generator,
		tests:          tests,
		attempts:       attempts,
		submitter:      submitter,
		maxUploadBytes: maxUploadBytes,
		log:            log.WithField("handler", "tests"),
	}
}

// Generate accepts either a JSON body or a multipart form with a "file" part.
func (h *TestHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateTestRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, err := h.parseMultipart(w, r)
		if err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
		req = parsed
	} else if !decodeJSON(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r.Context())
	test, err := h.generator.Generate(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, test)
}

func (h *TestHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (models.GenerateTestRequest, error) {
	var req models.GenerateTestRequest
	limit := h.maxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	// Leave room for the form fields around the file.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, &services.ValidationError{Fields: map[string]string{"file": "is too large"}}
		}
		return req, &services.ValidationError{Fields: map[string]string{"body": "invalid multipart form"}}
	}

	fields := map[string]string{}
	req.Title = r.FormValue("title")
	req.Content = r.FormValue("content")
	req.Difficulty = r.FormValue("difficulty")
	if v := r.FormValue("num_questions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["num_questions"] = "must be a number"
		}
		req.NumQuestions = n
	}
	if v := r.FormValue("time_limit_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["time_limit_minutes"] = "must be a number"
		} else {
			req.TimeLimitMinutes = &n
		}
	}
	for _, raw := range r.MultipartForm.Value["question_types"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.QuestionTypes = append(req.QuestionTypes, models.QuestionType(t))
			}
		}
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return req, err
		}
		req.FileName = header.Filename
		req.FileBytes = data
	case !errors.Is(err, http.ErrMissingFile):
		fields["file"] = "could not be read"
	}

	if len(fields) > 0 {
		return req, &services.ValidationError{Fields: fields}
	}
	return req, nil
}

func (h *TestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	tests, err := h.tests.ListTests(r.Context(), userID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list tests")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch tests", r))
		return
	}
	if tests == nil {
		tests = []*models.TestSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tests": tests})
}

// Get returns the owned test with answers stripped unless include_answers=true.
func (h *TestHandler) Get(w http.ResponseWriter, r *http.Request) {
	test, ok := h.ownedTest(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("include_answers") == "true" {
		writeJSON(w, http.StatusOK, test)
		return
	}
	writeJSON(w, http.StatusOK, test.Redacted())
}

func (h *TestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	test, ok := h.ownedTest(w, r)
	if !ok {
		return
	}
	if err := h.tests.DeleteTest(r.Context(), test.ID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	h.log.WithField("test_id", test.ID).Info("Test deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Submit grades a session held by the client. The submission token makes
// retries safe: the same token always yields the same stored attempt.
func (h *TestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	test, ok := h.ownedTest(w, r)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := services.ValidateStruct(req); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	sub := models.Submission{
		Token:            req.SubmissionToken,
		TestID:           test.ID,
		UserID:           middleware.GetUserID(r.Context()),
		Answers:          req.Answers,
		TimeSpentSeconds: req.TimeSpentSeconds,
		AutoSubmitted:    req.AutoSubmitted,
	}
	summary, err := h.submitter.Submit(r.Context(), test, sub)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *TestHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	test, ok := h.ownedTest(w, r)
	if !ok {
		return
	}
	attempts, err := h.attempts.ListAttemptsByTest(r.Context(), test.ID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list attempts")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch attempts", r))
		return
	}
	if attempts == nil {
		attempts = []*models.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

func (h *TestHandler) ownedTest(w http.ResponseWriter, r *http.Request) (*models.Test, bool) {
	return loadOwnedTest(w, r, h.tests, h.log)
}

func loadOwnedTest(w http.ResponseWriter, r *http.Request, tests repository.TestStore, log logrus.FieldLogger) (*models.Test, bool) {
	id, ok := parseID(w, r, "test")
	if !ok {
		return nil, false
	}
	test, err := tests.GetTest(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Test not found", r))
			return nil, false
		}
		handleServiceError(w, r, log, err)
		return nil, false
	}
	if test.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return test, true
}
