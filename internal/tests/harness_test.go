package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking/internal/config"
	"booking/internal/domain"
	"booking/internal/feed"
	"booking/internal/logging"
	"booking/internal/service"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// harness wires a real session stack against in-memory stores.
type harness struct {
	t          *testing.T
	repo       *MockBookingRepository
	pricing    *MockPricingRepository
	locations  *MockLocationStore
	publisher  *MockNotificationPublisher
	geocoder   *MockGeocoder
	locker     *MockSessionLocker
	recorder   *EventRecorder
	bookings   *feed.BookingFeed
	workers    *feed.LocationFeed
	deps       service.SessionDeps
	bookingSvc *service.BookingService
	paymentSvc *service.PaymentService
}

func fastSettings() service.SessionSettings {
	return service.SessionSettings{
		Tracking: config.TrackingConfig{
			AvgSpeedKmh:      30,
			PollInterval:     20 * time.Millisecond,
			DayCheckInterval: 20 * time.Millisecond,
		},
		Timer: config.TimerConfig{
			TickInterval:     10 * time.Millisecond,
			RetryAttempts:    3,
			RetryBackoff:     20 * time.Millisecond,
			WatchdogInterval: 30 * time.Millisecond,
			WatchdogWindow:   time.Second,
			FallbackDuration: time.Hour,
		},
	}
}

func newHarness(t *testing.T, mutate ...func(*service.SessionSettings)) *harness {
	t.Helper()

	log := logging.Discard()
	h := &harness{
		t:         t,
		repo:      NewMockBookingRepository(),
		pricing:   NewMockPricingRepository(),
		locations: NewMockLocationStore(),
		publisher: &MockNotificationPublisher{},
		geocoder:  &MockGeocoder{Address: "1 Rizal Ave, Manila"},
		locker:    NewMockSessionLocker(),
		recorder:  &EventRecorder{},
	}
	h.bookings = feed.NewBookingFeed(h.repo, log)
	h.workers = feed.NewLocationFeed(h.locations, log)
	h.repo.OnChange = func(id string) {
		_ = h.bookings.Refresh(context.Background(), id)
	}

	h.pricing.AddModel(&domain.PricingModel{
		CategoryID:  "cleaning",
		ServiceID:   "deep-clean",
		PricingType: domain.PricingTypeHourly,
		UnitPrice:   200,
	})

	settings := fastSettings()
	for _, m := range mutate {
		m(&settings)
	}

	pricingSvc := service.NewPricingService(h.pricing, nil, service.DefaultPricingCalculator(), log)
	h.deps = service.SessionDeps{
		Bookings:      h.repo,
		BookingFeed:   h.bookings,
		LocationFeed:  h.workers,
		Locations:     h.locations,
		Pricing:       pricingSvc,
		Geocoder:      h.geocoder,
		Notifications: service.NewNotificationService(h.publisher, log),
		Sink:          h.recorder,
		Settings:      settings,
		Logger:        log,
	}
	h.bookingSvc = service.NewBookingService(h.repo, pricingSvc, settings.Timer.FallbackDuration, log)
	h.paymentSvc = service.NewPaymentService(h.repo, log)

	t.Cleanup(func() {
		h.bookings.Close()
		h.workers.Close()
	})
	return h
}

// newBooking returns a pending booking scheduled for today.
func newBooking(id string) *domain.Booking {
	now := time.Now()
	return &domain.Booking{
		ID:            id,
		ClientID:      "client-1",
		WorkerID:      "worker-1",
		CategoryID:    "cleaning",
		ServiceID:     "deep-clean",
		Status:        domain.BookingStatusPending,
		ScheduledDate: now,
		Location: domain.ServiceLocation{
			Point: domain.Point{Lat: 14.5995, Lng: 120.9842},
		},
		Pricing: domain.PricingEstimate{
			BasePrice:     400,
			ServiceCharge: 40,
			Total:         490,
		},
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (h *harness) open(b *domain.Booking) *service.Session {
	h.t.Helper()
	h.repo.AddBooking(b)
	s, err := service.OpenSession(context.Background(), h.deps, b.ID, "device-1")
	require.NoError(h.t, err)
	h.t.Cleanup(s.Close)
	h.waitStatus(s, b.Status)
	return s
}

func (h *harness) state(s *service.Session) service.SessionState {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := s.State(ctx)
	require.NoError(h.t, err)
	return st
}

func (h *harness) waitStatus(s *service.Session, status domain.BookingStatus) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.state(s).Status == status
	}, waitFor, tick, "session never reached %s", status)
}

// move records a worker status action at the given time.
func (h *harness) move(s *service.Session, status domain.BookingStatus, at time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.repo.UpdateStatus(context.Background(), s.BookingID(), status, at))
	h.waitStatus(s, status)
}

// testClock is a settable clock shared by a session and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
