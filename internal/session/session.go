// Package session holds the server-side test-taking state machine.
//
// A Session moves setup → in_progress → submitting → completed, with failed
// reachable from submitting. Timed sessions own a one-second countdown that
// forces a submission at the deadline and is torn down on every exit from
// in_progress.
package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
)

var (
	ErrNotFound           = errors.New("session not found")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrExpired            = errors.New("session time limit has passed")
	ErrUnknownQuestion    = errors.New("question is not part of this test")
	ErrSubmissionInFlight = errors.New("submission already in progress")
)

// Submitter grades and persists a frozen submission.
type Submitter interface {
	Submit(ctx context.Context, test *models.Test, sub models.Submission) (*models.AttemptSummary, error)
}

// Notifier pushes unsolicited session events to the owning user.
type Notifier interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

const tickInterval = time.Second

type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID

	test          *models.Test
	clock         Clock
	submitter     Submitter
	notifier      Notifier
	log           logrus.FieldLogger
	submitTimeout time.Duration

	mu           sync.Mutex
	state        models.SessionState
	closed       bool
	currentIndex int
	answers      map[string]string
	startedAt    time.Time
	deadline     time.Time // zero for untimed tests
	finishedAt   time.Time
	submission   *models.Submission
	result       *models.AttemptSummary
	lastErr      error

	stop     chan struct{}
	stopOnce sync.Once
	timerWG  sync.WaitGroup
}

func newSession(userID uuid.UUID, test *models.Test, clock Clock, submitter Submitter, notifier Notifier, submitTimeout time.Duration, log logrus.FieldLogger) *Session {
	id := uuid.New()
	return &Session{
		ID:            id,
		UserID:        userID,
		test:          test,
		clock:         clock,
		submitter:     submitter,
		notifier:      notifier,
		submitTimeout: submitTimeout,
		log:           log.WithFields(logrus.Fields{"session_id": id, "test_id": test.ID, "user_id": userID}),
		state:         models.SessionSetup,
		answers:       make(map[string]string),
		stop:          make(chan struct{}),
	}
}

// Start moves the session to in_progress and, for timed tests, starts the countdown.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SessionSetup || s.closed {
		return ErrNotInProgress
	}
	s.state = models.SessionInProgress
	s.currentIndex = 0
	s.startedAt = s.clock.Now()

	if limit := s.test.TimeLimit(); limit > 0 {
		s.deadline = s.startedAt.Add(limit)
		ticker := s.clock.NewTicker(tickInterval)
		s.timerWG.Add(1)
		go s.runTimer(ticker)
	}
	s.log.Info("Session started")
	return nil
}

func (s *Session) TestID() uuid.UUID { return s.test.ID }

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordAnswer upserts the answer for questionID. Any string is accepted.
func (s *Session) RecordAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acceptingInput(); err != nil {
		return err
	}
	if _, ok := s.test.Question(questionID); !ok {
		return ErrUnknownQuestion
	}
	s.answers[questionID] = value
	return nil
}

// Navigate moves the cursor by delta, clamped to the question range.
func (s *Session) Navigate(delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acceptingInput(); err != nil {
		return s.currentIndex, err
	}
	idx := s.currentIndex + delta
	if idx < 0 {
		idx = 0
	}
	if last := len(s.test.Questions) - 1; idx > last {
		idx = last
	}
	if idx < 0 {
		idx = 0
	}
	s.currentIndex = idx
	return idx, nil
}

// caller holds s.mu
func (s *Session) acceptingInput() error {
	if s.state != models.SessionInProgress || s.closed {
		return ErrNotInProgress
	}
	if !s.deadline.IsZero() && !s.clock.Now().Before(s.deadline) {
		return ErrExpired
	}
	return nil
}

// Submit freezes the session and hands the snapshot to the submitter. From
// failed it retries with the snapshot captured the first time. A completed
// session returns its stored result.
func (s *Session) Submit(ctx context.Context) (*models.AttemptSummary, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrNotInProgress
	case s.state == models.SessionCompleted:
		result := s.result
		s.mu.Unlock()
		return result, nil
	case s.state == models.SessionSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	case s.state == models.SessionSetup:
		s.mu.Unlock()
		return nil, ErrNotInProgress
	case s.state == models.SessionInProgress:
		s.freeze(false)
	}
	s.state = models.SessionSubmitting
	sub := copySubmission(s.submission)
	s.mu.Unlock()

	return s.deliver(ctx, sub)
}

// freeze captures the submission snapshot and stops the countdown.
// caller holds s.mu
func (s *Session) freeze(auto bool) {
	s.stopTimer()

	elapsed := s.clock.Now().Sub(s.startedAt)
	if limit := s.test.TimeLimit(); limit > 0 && elapsed > limit {
		elapsed = limit
	}
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	s.submission = &models.Submission{
		Token:            uuid.New(),
		TestID:           s.test.ID,
		UserID:           s.UserID,
		Answers:          answers,
		TimeSpentSeconds: int(math.Round(elapsed.Seconds())),
		AutoSubmitted:    auto,
	}
}

func (s *Session) deliver(ctx context.Context, sub models.Submission) (*models.AttemptSummary, error) {
	summary, err := s.submitter.Submit(ctx, s.test, sub)

	s.mu.Lock()
	s.finishedAt = s.clock.Now()
	if err != nil {
		s.state = models.SessionFailed
		s.lastErr = err
		s.mu.Unlock()

		s.log.WithError(err).Warn("Submission failed, session kept for retry")
		s.publish(models.EventSessionFailed, models.SessionEvent{SessionID: s.ID, TestID: s.test.ID, Message: err.Error()})
		return nil, err
	}
	s.state = models.SessionCompleted
	s.result = summary
	s.lastErr = nil
	s.mu.Unlock()

	attemptID := summary.Attempt.ID
	s.log.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"percentage": summary.Percentage,
		"auto":       sub.AutoSubmitted,
	}).Info("Session completed")
	s.publish(models.EventSessionCompleted, models.SessionEvent{SessionID: s.ID, TestID: s.test.ID, AttemptID: &attemptID})
	return summary, nil
}

// Abandon discards the session and stops its countdown.
func (s *Session) Abandon() {
	s.mu.Lock()
	s.closed = true
	s.stopTimer()
	s.mu.Unlock()
}

func (s *Session) stopTimer() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) runTimer(ticker Ticker) {
	defer s.timerWG.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C():
			remaining := s.deadline.Sub(now)
			if remaining <= 0 {
				s.expire()
				return
			}
			s.publish(models.EventSessionTick, models.SessionTick{
				SessionID:        s.ID,
				RemainingSeconds: ceilSeconds(remaining),
			})
		}
	}
}

// expire force-submits with the answers recorded so far. A manual submit
// that got there first wins.
func (s *Session) expire() {
	s.mu.Lock()
	if s.state != models.SessionInProgress || s.closed {
		s.mu.Unlock()
		return
	}
	s.freeze(true)
	s.state = models.SessionSubmitting
	sub := copySubmission(s.submission)
	s.mu.Unlock()

	s.log.Info("Time limit reached, auto-submitting")
	s.publish(models.EventSessionExpired, models.SessionEvent{SessionID: s.ID, TestID: s.test.ID})

	ctx := context.Background()
	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}
	_, _ = s.deliver(ctx, sub)
}

func (s *Session) publish(eventType string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishUpdate(context.Background(), s.UserID, models.WSMessage{Type: eventType, Payload: payload})
}

// View is the client-facing snapshot. The current question is redacted.
func (s *Session) View() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := models.SessionView{
		ID:             s.ID,
		TestID:         s.test.ID,
		State:          s.state,
		CurrentIndex:   s.currentIndex,
		TotalQuestions: len(s.test.Questions),
		Answers:        make(map[string]string, len(s.answers)),
		StartedAt:      s.startedAt,
		Result:         s.result,
	}
	for k, v := range s.answers {
		view.Answers[k] = v
	}
	if s.currentIndex < len(s.test.Questions) {
		q := s.test.Questions[s.currentIndex].Redacted()
		view.CurrentQuestion = &q
	}
	if !s.deadline.IsZero() {
		deadline := s.deadline
		view.DeadlineAt = &deadline
		remaining := 0
		if s.state == models.SessionInProgress {
			remaining = ceilSeconds(s.deadline.Sub(s.clock.Now()))
		}
		view.RemainingSeconds = &remaining
	}
	if s.lastErr != nil {
		view.LastError = s.lastErr.Error()
	}
	return view
}

// caller holds s.mu
func (s *Session) expiredFor(now time.Time, retention time.Duration) bool {
	if s.state != models.SessionCompleted && s.state != models.SessionFailed {
		return false
	}
	return now.Sub(s.finishedAt) > retention
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func copySubmission(sub *models.Submission) models.Submission {
	out := *sub
	out.Answers = make(map[string]string, len(sub.Answers))
	for k, v := range sub.Answers {
		out.Answers[k] = v
	}
	return out
}
