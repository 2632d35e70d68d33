package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/config"
	"booking/internal/domain"
	"booking/internal/repository"
	"booking/internal/service"
)

// ──────────────────────────────────────────────
// 6. SESSION MANAGER
// ──────────────────────────────────────────────

func managerConfig(limit int) config.SessionConfig {
	return config.SessionConfig{
		MaxSessions:   limit,
		LockTTL:       time.Minute,
		FinishedGrace: 5 * time.Minute,
		SweepInterval: time.Hour,
	}
}

func newManager(h *harness, limit int) *service.SessionManager {
	return newManagerWith(h, h.locker, managerConfig(limit))
}

func newManagerWith(h *harness, locker service.SessionLocker, cfg config.SessionConfig) *service.SessionManager {
	m := service.NewSessionManager(h.deps, locker, cfg)
	h.t.Cleanup(m.Shutdown)
	return m
}

func TestSessionManager_SameDeviceReusesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-mgr"))
	m := newManager(h, 0)
	ctx := context.Background()

	first, err := m.Open(ctx, "b-mgr", "device-1")
	require.NoError(t, err)
	second, err := m.Open(ctx, "b-mgr", "device-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Count())
	assert.True(t, h.locker.Held("b-mgr", "device-1"))

	other, err := m.Open(ctx, "b-mgr", "device-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), other.ID())
	assert.Equal(t, 2, h.bookings.Subscribers("b-mgr"))

	got, err := m.Get(first.ID())
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestSessionManager_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-locked"))
	m := newManager(h, 0)
	ctx := context.Background()

	ok, err := h.locker.AcquireSessionLock(ctx, "b-locked", "device-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.Open(ctx, "b-locked", "device-1")
	assert.ErrorIs(t, err, service.ErrSessionExists)
	assert.Zero(t, m.Count())
	assert.Zero(t, h.bookings.Subscribers("b-locked"))
}

func TestSessionManager_LockerError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-lock-err"))
	h.locker.Error = errInjected
	m := newManager(h, 0)

	_, err := m.Open(context.Background(), "b-lock-err", "device-1")
	assert.ErrorIs(t, err, errInjected)
	assert.Zero(t, m.Count())
}

func TestSessionManager_Limit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-cap"))
	m := newManager(h, 1)
	ctx := context.Background()

	_, err := m.Open(ctx, "b-cap", "device-1")
	require.NoError(t, err)
	_, err = m.Open(ctx, "b-cap", "device-2")
	assert.ErrorIs(t, err, service.ErrSessionLimit)
	assert.False(t, h.locker.Held("b-cap", "device-2"))
}

func TestSessionManager_UnknownBookingReleasesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	m := newManager(h, 0)

	_, err := m.Open(context.Background(), "missing", "device-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, h.locker.Held("missing", "device-1"))
	assert.Zero(t, h.bookings.Subscribers("missing"))
	assert.Zero(t, m.Count())
}

func TestSessionManager_InvalidIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	m := newManager(h, 0)
	ctx := context.Background()

	_, err := m.Open(ctx, "", "device-1")
	assert.ErrorIs(t, err, service.ErrInvalidBookingID)
	_, err = m.Open(ctx, "b-1", "")
	assert.ErrorIs(t, err, service.ErrInvalidDeviceID)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	assert.ErrorIs(t, m.Close("nope"), service.ErrSessionNotFound)
}

func TestSessionManager_CloseReleasesLockAndSubscriptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := newBooking("b-close")
	b.Status = domain.BookingStatusOnTheWay
	h.repo.AddBooking(b)
	m := newManager(h, 0)
	ctx := context.Background()

	s, err := m.Open(ctx, "b-close", "device-1")
	require.NoError(t, err)
	events, stop := s.Events(64)
	defer stop()
	h.waitStatus(s, domain.BookingStatusOnTheWay)
	require.Equal(t, 1, h.workers.Subscribers("worker-1"))

	require.NoError(t, m.Close(s.ID()))

	assert.False(t, h.locker.Held("b-close", "device-1"))
	assert.Zero(t, h.bookings.Subscribers("b-close"))
	assert.Zero(t, h.workers.Subscribers("worker-1"))
	assert.Zero(t, s.OpenResources())

	select {
	case <-s.Done():
	default:
		t.Fatal("session loop still running after close")
	}

	_, err = s.State(ctx)
	assert.ErrorIs(t, err, service.ErrSessionClosed)
	_, err = s.SubmitRating(ctx, 5, "")
	assert.ErrorIs(t, err, service.ErrSessionClosed)

	// The listener channel drains and closes.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)

	// A new session may be opened for the same device.
	again, err := m.Open(ctx, "b-close", "device-1")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), again.ID())
}

func TestSessionManager_Shutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-down"))
	m := service.NewSessionManager(h.deps, h.locker, managerConfig(0))
	ctx := context.Background()

	a, err := m.Open(ctx, "b-down", "device-1")
	require.NoError(t, err)
	b, err := m.Open(ctx, "b-down", "device-2")
	require.NoError(t, err)

	m.Shutdown()

	assert.Zero(t, m.Count())
	for _, s := range []*service.Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still running", s.ID())
		}
	}
	assert.Zero(t, h.bookings.Subscribers("b-down"))
	assert.False(t, h.locker.Held("b-down", "device-2"))
}

func TestSessionManager_SweepEvictsFinishedSessions(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	h := newHarness(t)
	h.deps.Now = clock.Now
	b := newBooking("b-finished")
	b.ScheduledDate = clock.Now()
	h.repo.AddBooking(b)
	m := newManager(h, 0)
	ctx := context.Background()

	s, err := m.Open(ctx, "b-finished", "device-1")
	require.NoError(t, err)
	require.NoError(t, h.repo.Cancel(ctx, "b-finished", "changed plans", clock.Now()))
	h.waitStatus(s, domain.BookingStatusCancelled)

	m.Sweep(ctx)
	assert.Equal(t, 1, m.Count(), "finished session kept during grace period")

	clock.Set(clock.Now().Add(6 * time.Minute))
	m.Sweep(ctx)

	assert.Zero(t, m.Count())
	assert.False(t, h.locker.Held("b-finished", "device-1"))
	select {
	case <-s.Done():
	default:
		t.Fatal("evicted session still running")
	}
}

func TestSessionManager_LimitReclaimsFinishedSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	done := newBooking("b-paid")
	done.Status = domain.BookingStatusCompleted
	done.PaymentStatus = domain.PaymentStatusAwaiting
	h.repo.AddBooking(done)
	h.repo.AddBooking(newBooking("b-next"))
	m := newManager(h, 1)
	ctx := context.Background()

	s, err := m.Open(ctx, "b-paid", "device-1")
	require.NoError(t, err)
	h.waitStatus(s, domain.BookingStatusCompleted)

	_, err = m.Open(ctx, "b-next", "device-1")
	require.ErrorIs(t, err, service.ErrSessionLimit, "a live session keeps its slot")

	_, err = h.paymentSvc.ConfirmPayment(ctx, "b-paid")
	require.NoError(t, err)
	h.waitStatus(s, domain.BookingStatusPaymentConfirmed)

	next, err := m.Open(ctx, "b-next", "device-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
	assert.NotEqual(t, s.ID(), next.ID())
	assert.False(t, h.locker.Held("b-paid", "device-1"))
	assert.Zero(t, s.OpenResources())
}

func TestSessionManager_SweepEvictsIdleSessions(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	h := newHarness(t)
	h.deps.Now = clock.Now
	b := newBooking("b-idle")
	b.ScheduledDate = clock.Now()
	h.repo.AddBooking(b)

	cfg := managerConfig(0)
	cfg.IdleTimeout = 10 * time.Minute
	m := newManagerWith(h, h.locker, cfg)
	ctx := context.Background()

	s, err := m.Open(ctx, "b-idle", "device-1")
	require.NoError(t, err)
	_, stop := s.Events(16)

	clock.Set(clock.Now().Add(11 * time.Minute))
	m.Sweep(ctx)
	assert.Equal(t, 1, m.Count(), "session with a listener is not idle")

	stop()
	m.Sweep(ctx)
	assert.Equal(t, 1, m.Count(), "idle time restarts when the last listener leaves")

	clock.Set(clock.Now().Add(11 * time.Minute))
	m.Sweep(ctx)
	assert.Zero(t, m.Count())
	assert.False(t, h.locker.Held("b-idle", "device-1"))
	assert.Zero(t, h.bookings.Subscribers("b-idle"))
}

func TestSessionManager_SweepRefreshesLocks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-refresh"))
	m := newManager(h, 0)
	ctx := context.Background()

	s, err := m.Open(ctx, "b-refresh", "device-1")
	require.NoError(t, err)

	m.Sweep(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.locker.RefreshCallCount))
	assert.Equal(t, 1, m.Count())

	// The lock expired and another instance may now own the session.
	h.locker.Expire("b-refresh", "device-1")
	m.Sweep(ctx)

	assert.Zero(t, m.Count())
	select {
	case <-s.Done():
	default:
		t.Fatal("session kept running without its lock")
	}
}

func TestSessionManager_ConcurrentOpensShareOneSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-race"))
	m := newManager(h, 0)

	const openers = 8
	var wg sync.WaitGroup
	got := make([]*service.Session, openers)
	errs := make([]error, openers)
	for i := range openers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = m.Open(context.Background(), "b-race", "device-1")
		}()
	}
	wg.Wait()

	for i := range openers {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, h.bookings.Subscribers("b-race"))
}

// gatedLocker blocks lock acquisition for one booking until released.
type gatedLocker struct {
	*MockSessionLocker
	bookingID string
	entered   chan struct{}
	release   chan struct{}
}

func newGatedLocker(bookingID string) *gatedLocker {
	return &gatedLocker{
		MockSessionLocker: NewMockSessionLocker(),
		bookingID:         bookingID,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (l *gatedLocker) AcquireSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error) {
	if bookingID == l.bookingID {
		close(l.entered)
		<-l.release
	}
	return l.MockSessionLocker.AcquireSessionLock(ctx, bookingID, deviceID, ttl)
}

func TestSessionManager_SlowLockDoesNotBlockOtherSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-slow"))
	h.repo.AddBooking(newBooking("b-fast"))
	locker := newGatedLocker("b-slow")
	m := newManagerWith(h, locker, managerConfig(0))
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := m.Open(ctx, "b-slow", "device-1")
		slow <- err
	}()
	<-locker.entered

	fast := make(chan error, 1)
	go func() {
		s, err := m.Open(ctx, "b-fast", "device-1")
		if err == nil {
			_, err = m.Get(s.ID())
		}
		fast <- err
	}()

	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("open blocked behind another booking's lock")
	}
	assert.Equal(t, 1, m.Count())

	close(locker.release)
	require.NoError(t, <-slow)
	assert.Equal(t, 2, m.Count())
}

func TestSessionManager_ShutdownDuringOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(newBooking("b-late"))
	locker := newGatedLocker("b-late")
	m := newManagerWith(h, locker, managerConfig(0))

	done := make(chan error, 1)
	go func() {
		_, err := m.Open(context.Background(), "b-late", "device-1")
		done <- err
	}()
	<-locker.entered

	m.Shutdown()
	close(locker.release)

	assert.ErrorIs(t, <-done, service.ErrSessionClosed)
	assert.Zero(t, m.Count())
	assert.False(t, locker.Held("b-late", "device-1"))
	assert.Zero(t, h.bookings.Subscribers("b-late"))

	_, err := m.Open(context.Background(), "b-late", "device-2")
	assert.ErrorIs(t, err, service.ErrSessionClosed)
}
