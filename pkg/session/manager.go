package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is the idle time after which a session is evicted.
	DefaultTTL = 30 * time.Minute

	// DefaultSweepInterval is how often the sweeper scans for expired
	// sessions.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultMaxSessions bounds concurrent sessions.
	DefaultMaxSessions = 128

	slogKeyError = "error"
)

// ErrMaxSessions is returned by Create when the session cap is reached.
var ErrMaxSessions = errors.New("session limit reached")

// ErrShuttingDown is returned by Create during shutdown.
var ErrShuttingDown = errors.New("session manager is shutting down")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxSessions   int
	Factory       Factory
	Logger        *slog.Logger
}

// Manager owns the map of live sessions. All access to session storage
// goes through it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	ttl           time.Duration
	sweepInterval time.Duration
	maxSessions   int
	factory       Factory
	log           *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager. The factory is required; zero
// durations and counts fall back to the defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		maxSessions:   cfg.MaxSessions,
		factory:       cfg.Factory,
		log:           cfg.Logger,
	}
}

// Create mints a new session with a private dispatcher and registers it.
func (m *Manager) Create(_ context.Context) (*Session, error) {
	id := uuid.NewString()

	dispatcher, err := m.factory(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeDispatcher(sess)
		return nil, ErrShuttingDown
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		m.closeDispatcher(sess)
		return nil, ErrMaxSessions
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Debug("session: created", "session_id", id)
	return sess, nil
}

// Get looks a session up by ID and refreshes its last-active time. A
// miss is normal control flow, not an error: the caller must
// re-handshake.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastActive = time.Now()
	return sess, true
}

// Delete removes and closes a session. It reports whether anything was
// removed; deleting an unknown ID is a no-op. The map entry is removed
// before the dispatcher is closed so that a transport-initiated close
// re-entering this path finds nothing to do.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	close(sess.done)
	m.closeDispatcher(sess)
	m.log.Debug("session: deleted", "session_id", id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the periodic sweeper. It is stopped by Shutdown.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// sweep evicts sessions idle past the TTL. Expired candidates are
// collected under a read lock and deleted outside the scan so the sweep
// never blocks session creation for longer than the snapshot.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if now.Sub(sess.lastActive) > m.ttl {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if m.deleteExpired(id) {
			m.log.Info("session: expired", "session_id", id, "ttl", m.ttl)
		}
	}
}

// deleteExpired removes a session only if it is still expired, so a
// session touched between the snapshot and this call survives.
func (m *Manager) deleteExpired(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || time.Since(sess.lastActive) <= m.ttl {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	close(sess.done)
	m.closeDispatcher(sess)
	return true
}

// Shutdown stops the sweeper and deletes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	for _, id := range ids {
		m.Delete(id)
	}
}

// closeDispatcher closes a session's dispatcher. Close failures are
// logged, never propagated: removal must still succeed for the caller.
func (m *Manager) closeDispatcher(sess *Session) {
	if err := sess.dispatcher.Close(); err != nil {
		m.log.Warn("session: dispatcher close failed", "session_id", sess.ID, slogKeyError, err)
	}
}
