package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"booking/internal/config"
	"booking/internal/observability"
)

// SessionLocker gives one process ownership of a booking/device session.
// Locks expire after their TTL unless refreshed.
type SessionLocker interface {
	AcquireSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error)
	RefreshSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error)
	ReleaseSessionLock(ctx context.Context, bookingID, deviceID string) error
}

// SessionManager opens, looks up and tears down booking sessions. Run sweeps
// out finished and idle sessions and keeps the locks of the others alive.
type SessionManager struct {
	deps   SessionDeps
	locker SessionLocker
	cfg    config.SessionConfig
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byKey    map[string]string
	pending  map[string]chan struct{}
	closed   bool
}

// NewSessionManager creates a new SessionManager. locker may be nil.
func NewSessionManager(deps SessionDeps, locker SessionLocker, cfg config.SessionConfig) *SessionManager {
	return &SessionManager{
		deps:     deps,
		locker:   locker,
		cfg:      cfg,
		log:      deps.Logger,
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
		pending:  make(map[string]chan struct{}),
	}
}

func sessionKey(bookingID, deviceID string) string {
	return bookingID + "/" + deviceID
}

// Open returns the session for a booking and device, opening one if needed.
// Locking and loading run outside the manager mutex; a concurrent open of the
// same booking and device waits for the first and then reuses its session.
func (m *SessionManager) Open(ctx context.Context, bookingID, deviceID string) (*Session, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}

	key := sessionKey(bookingID, deviceID)
	reclaimed := false
	for {
		s, wait, err := m.reserve(key)
		if errors.Is(err, ErrSessionLimit) && !reclaimed {
			reclaimed = true
			if m.evictFinished() > 0 {
				continue
			}
		}
		if err != nil || s != nil {
			return s, err
		}
		if wait == nil {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s, err := m.open(ctx, bookingID, deviceID)
	return m.commit(key, s, err)
}

// reserve returns the existing session for key, or a channel that closes when
// an in-flight open of key finishes. When both are nil the key is reserved
// for the caller, who must call commit.
func (m *SessionManager) reserve(key string) (*Session, <-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrSessionClosed
	}
	if id, ok := m.byKey[key]; ok {
		if s, ok := m.sessions[id]; ok {
			return s, nil, nil
		}
	}
	if wait, ok := m.pending[key]; ok {
		return nil, wait, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions)+len(m.pending) >= m.cfg.MaxSessions {
		return nil, nil, ErrSessionLimit
	}
	m.pending[key] = make(chan struct{})
	return nil, nil, nil
}

func (m *SessionManager) open(ctx context.Context, bookingID, deviceID string) (*Session, error) {
	if m.locker != nil {
		ok, err := m.locker.AcquireSessionLock(ctx, bookingID, deviceID, m.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSessionExists
		}
	}

	s, err := OpenSession(ctx, m.deps, bookingID, deviceID)
	if err != nil {
		m.releaseLock(bookingID, deviceID)
		return nil, err
	}
	return s, nil
}

func (m *SessionManager) commit(key string, s *Session, err error) (*Session, error) {
	m.mu.Lock()
	close(m.pending[key])
	delete(m.pending, key)
	closed := m.closed
	if err == nil && !closed {
		m.sessions[s.ID()] = s
		m.byKey[key] = s.ID()
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if closed {
		s.Close()
		m.releaseLock(s.BookingID(), s.DeviceID())
		return nil, ErrSessionClosed
	}
	return s, nil
}

// Get returns an open session by ID.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears down a session and releases its lock.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.byKey, sessionKey(s.BookingID(), s.DeviceID()))
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.Close()
	m.releaseLock(s.BookingID(), s.DeviceID())
	return nil
}

func (m *SessionManager) list() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run sweeps sessions every SweepInterval until ctx is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep closes sessions whose booking finished more than FinishedGrace ago
// and sessions nobody has listened to or called for IdleTimeout. Every other
// session gets its lock refreshed; one whose lock was lost is closed.
func (m *SessionManager) Sweep(ctx context.Context) {
	now := m.now()
	for _, s := range m.list() {
		if reason := m.evictReason(s, now); reason != "" {
			m.evict(s, reason)
			continue
		}
		if m.locker == nil {
			continue
		}

		ok, err := m.locker.RefreshSessionLock(ctx, s.BookingID(), s.DeviceID(), m.cfg.LockTTL)
		switch {
		case err != nil:
			m.log.Warn("session lock refresh failed", "session_id", s.ID(), "booking_id", s.BookingID(), "error", err)
		case !ok:
			m.evict(s, "lock_lost")
		}
	}
}

// evictFinished closes every session whose booking has finished, grace
// period or not. It runs when the session limit is reached.
func (m *SessionManager) evictFinished() int {
	n := 0
	for _, s := range m.list() {
		if _, ok := s.FinishedAt(); ok {
			m.evict(s, "limit")
			n++
		}
	}
	return n
}

func (m *SessionManager) evictReason(s *Session, now time.Time) string {
	if at, ok := s.FinishedAt(); ok && now.Sub(at) >= m.cfg.FinishedGrace {
		return "finished"
	}
	if m.cfg.IdleTimeout > 0 && s.Listeners() == 0 && now.Sub(s.IdleSince()) >= m.cfg.IdleTimeout {
		return "idle"
	}
	return ""
}

func (m *SessionManager) evict(s *Session, reason string) {
	if err := m.Close(s.ID()); err != nil {
		return
	}
	observability.SessionEvictionsTotal.WithLabelValues(reason).Inc()
	m.log.Info("session evicted", "session_id", s.ID(), "booking_id", s.BookingID(), "device_id", s.DeviceID(), "reason", reason)
}

func (m *SessionManager) now() time.Time {
	if m.deps.Now != nil {
		return m.deps.Now()
	}
	return time.Now()
}

// Shutdown closes every session. Opens still in flight are closed as they finish.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
	m.log.Info("sessions shut down", "count", len(ids))
}

func (m *SessionManager) releaseLock(bookingID, deviceID string) {
	if m.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.locker.ReleaseSessionLock(ctx, bookingID, deviceID); err != nil {
		m.log.Warn("session lock release failed", "booking_id", bookingID, "device_id", deviceID, "error", err)
	}
}
