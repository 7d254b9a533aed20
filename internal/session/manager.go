package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
)

type ManagerConfig struct {
	// SubmitTimeout bounds grading plus persistence for timer-driven submissions.
	SubmitTimeout time.Duration
	// Retention is how long finished sessions stay readable before Prune drops them.
	Retention time.Duration
}

// Manager owns the live sessions of this process. There is at most one open
// session per user and test.
type Manager struct {
	clock     Clock
	submitter Submitter
	notifier  Notifier
	cfg       ManagerConfig
	log       logrus.FieldLogger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	open     map[openKey]uuid.UUID
}

type openKey struct {
	userID uuid.UUID
	testID uuid.UUID
}

// NewManager builds a Manager; notifier may be nil.
func NewManager(submitter Submitter, notifier Notifier, cfg ManagerConfig, log logrus.FieldLogger) *Manager {
	return newManagerWithClock(RealClock{}, submitter, notifier, cfg, log)
}

func newManagerWithClock(clock Clock, submitter Submitter, notifier Notifier, cfg ManagerConfig, log logrus.FieldLogger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	return &Manager{
		clock:     clock,
		submitter: submitter,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.WithField("component", "sessions"),
		sessions:  make(map[uuid.UUID]*Session),
		open:      make(map[openKey]uuid.UUID),
	}
}

// Start begins a session on test for userID. An unfinished session for the
// same pair is resumed instead of replaced.
func (m *Manager) Start(userID uuid.UUID, test *models.Test) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := openKey{userID: userID, testID: test.ID}
	if id, ok := m.open[key]; ok {
		if existing, ok := m.sessions[id]; ok && existing.State() != models.SessionCompleted {
			return existing, nil
		}
	}

	s := newSession(userID, test, m.clock, m.submitter, m.notifier, m.cfg.SubmitTimeout, m.log)
	if err := s.Start(); err != nil {
		return nil, err
	}
	m.sessions[s.ID] = s
	m.open[key] = s.ID
	return s, nil
}

// Get returns the session if it exists and belongs to userID.
func (m *Manager) Get(userID, sessionID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	return s, nil
}

// Abandon stops the session's countdown and forgets it.
func (m *Manager) Abandon(userID, sessionID uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.remove(s)
	m.mu.Unlock()

	s.Abandon()
	s.log.Info("Session abandoned")
	return nil
}

// Prune drops finished sessions older than the retention window and returns
// how many were removed.
func (m *Manager) Prune() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, s := range m.sessions {
		s.mu.Lock()
		stale := s.expiredFor(now, m.cfg.Retention)
		s.mu.Unlock()
		if stale {
			m.remove(s)
			removed++
		}
	}
	return removed
}

// Run prunes periodically until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := m.Prune(); n > 0 {
				m.log.WithField("removed", n).Debug("Pruned finished sessions")
			}
		}
	}
}

// Shutdown stops every countdown. Sessions are in-memory and do not survive a restart.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.open = make(map[openKey]uuid.UUID)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Abandon()
	}
}

// caller holds m.mu
func (m *Manager) remove(s *Session) {
	delete(m.sessions, s.ID)
	key := openKey{userID: s.UserID, testID: s.test.ID}
	if m.open[key] == s.ID {
		delete(m.open, key)
	}
}
