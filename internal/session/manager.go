package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for an unknown or evicted session ID.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// Manager creates and tracks isolated sessions. Sessions share only the
// stateless dependencies in Deps.
type Manager struct {
	deps        Deps
	opts        Options
	maxSessions int
	idleTTL     time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager. maxSessions <= 0 means no limit and
// idleTTL <= 0 disables eviction.
func NewManager(deps Deps, opts Options, maxSessions int, idleTTL time.Duration) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		deps:        deps,
		opts:        opts,
		maxSessions: maxSessions,
		idleTTL:     idleTTL,
		logger:      deps.Logger,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new session. Idle sessions are evicted first when the
// limit is reached.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.evictLocked()
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}
	id := uuid.NewString()
	s := New(id, m.deps, m.opts)
	m.sessions[id] = s
	m.mu.Unlock()

	if m.deps.Store != nil {
		if err := m.deps.Store.CreateSession(ctx, id); err != nil {
			m.logger.Warn("transcript store create failed", zap.String("session", id), zap.Error(err))
		}
	}
	m.logger.Info("session created", zap.String("session", id))
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.deps.Store != nil {
		if err := m.deps.Store.DeleteSession(ctx, id); err != nil {
			m.logger.Warn("transcript store delete failed", zap.String("session", id), zap.Error(err))
		}
	}
	return s.Close()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle removes sessions idle for longer than the TTL and returns how
// many were removed. Sessions with an operation in flight are never idle.
// Transcripts are kept.
func (m *Manager) EvictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked()
}

func (m *Manager) evictLocked() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)
	n := 0
	for id, s := range m.sessions {
		if !s.Busy() && s.LastActive().Before(cutoff) {
			delete(m.sessions, id)
			go func(s *Session) {
				if err := s.Close(); err != nil {
					m.logger.Warn("closing evicted session", zap.Error(err))
				}
			}(s)
			m.logger.Info("session evicted", zap.String("session", id))
			n++
		}
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = m.idleTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// Close closes every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
