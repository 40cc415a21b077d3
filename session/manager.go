package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/menu"
	"github.com/tablecraft/voiceorder/order"
)

// Notifier is told about confirmed submissions. Satisfied by the kitchen
// announcer; a nil notifier disables announcements.
type Notifier interface {
	OrderSubmitted(ctx context.Context, restaurantID string, receipt *order.Receipt) error
}

// ManagerConfig holds process-wide session defaults.
type ManagerConfig struct {
	Matcher menu.MatcherConfig `json:"matcher"`

	// MaxSessions bounds concurrent sessions; 0 means unlimited.
	MaxSessions int `json:"max_sessions"`
}

// Manager owns the live sessions of one process.
type Manager struct {
	cfg       ManagerConfig
	creds     CredentialProvider
	factory   ConnFactory
	submitter order.Submitter
	notifier  Notifier
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	// reserved counts admitted Creates that have not registered yet, so
	// concurrent Creates cannot overshoot MaxSessions while starting.
	reserved int
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig, creds CredentialProvider, factory ConnFactory,
	submitter order.Submitter, notifier Notifier, logger *slog.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		creds:     creds,
		factory:   factory,
		submitter: submitter,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
	}
}

// Create builds and starts a session for a restaurant. The session is
// registered only after Start succeeds; a failed start leaves no residue.
func (m *Manager) Create(ctx context.Context, restaurantID string, events Events) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.reserved >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, errors.WrapTransient(
			fmt.Errorf("session limit %d reached", m.cfg.MaxSessions),
			"session", "Create", "admit session")
	}
	m.reserved++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
	}

	sess, err := New(Config{
		RestaurantID: restaurantID,
		Matcher:      m.cfg.Matcher,
	}, m.creds, m.factory, m.submitter, events, m.logger, m.metrics)
	if err != nil {
		release()
		return nil, err
	}

	if err := sess.Start(ctx); err != nil {
		release()
		return nil, err
	}

	m.mu.Lock()
	m.reserved--
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Submit submits a session's draft and announces a confirmed order.
func (m *Manager) Submit(ctx context.Context, id string) (*order.Receipt, error) {
	sess, ok := m.Get(id)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown session %s", id),
			"session", "Submit", "look up session")
	}

	receipt, err := sess.Submit(ctx)
	if err != nil {
		return nil, err
	}

	if m.notifier != nil {
		// The order is already confirmed; an announcement failure is logged,
		// not surfaced as a submission failure.
		if err := m.notifier.OrderSubmitted(ctx, sess.cfg.RestaurantID, receipt); err != nil {
			m.logger.Warn("kitchen announcement failed",
				"session_id", id, "order_id", receipt.OrderID, "error", err)
		}
	}
	return receipt, nil
}

// Close tears one session down and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unknown session %s", id),
			"session", "Close", "look up session")
	}
	return sess.Close()
}

// CloseAll tears down every live session, for process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			m.logger.Warn("session close failed", "session_id", sess.ID(), "error", err)
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
