package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"booking/internal/domain"
	"booking/internal/repository"
	"booking/internal/service"
)

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is an in-memory BookingRepository. Like the postgres
// implementation it notifies OnChange after every successful write.
type MockBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking

	// OnChange plays the role of pg_notify.
	OnChange func(bookingID string)

	// Counters for verification
	GetByIDCallCount          int32
	SaveClientRatingCallCount int32
	SaveFinalPricingCallCount int32
	SaveJobDurationCallCount  int32
	ConfirmPaymentCallCount   int32

	// Error injection
	GetByIDError          error
	SaveFinalPricingError error
}

// NewMockBookingRepository creates a new mock booking repository.
func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{
		bookings: make(map[string]*domain.Booking),
	}
}

// AddBooking stores a booking without notifying.
func (m *MockBookingRepository) AddBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
}

// Mutate changes a stored booking in place. With notify set, subscribers are
// told about the change.
func (m *MockBookingRepository) Mutate(id string, notify bool, fn func(b *domain.Booking)) {
	m.mu.Lock()
	if b, ok := m.bookings[id]; ok {
		fn(b)
	}
	m.mu.Unlock()
	if notify {
		m.notify(id)
	}
}

// Redeliver re-sends the current booking without changing it.
func (m *MockBookingRepository) Redeliver(id string) {
	m.notify(id)
}

// GetBooking returns the stored booking for test assertions.
func (m *MockBookingRepository) GetBooking(id string) *domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (m *MockBookingRepository) notify(id string) {
	if m.OnChange != nil {
		m.OnChange(id)
	}
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	cp := *b
	return &cp, nil
}

// write applies fn under the lock and notifies on success.
func (m *MockBookingRepository) write(id string, fn func(b *domain.Booking) error) error {
	m.mu.Lock()
	b, ok := m.bookings[id]
	if !ok {
		m.mu.Unlock()
		return repository.ErrNotFound
	}
	err := fn(b)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(id)
	return nil
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) error {
	return m.write(id, func(b *domain.Booking) error {
		if b.Status.IsTerminal() {
			return repository.ErrConflict
		}
		b.Status = status
		if status == domain.BookingStatusServiceStarted && b.JobTimer.StartedAt.IsZero() {
			b.JobTimer.StartedAt = at
		}
		if status == domain.BookingStatusAwaitingPayment && b.JobTimer.EndedAt.IsZero() {
			b.JobTimer.EndedAt = at
		}
		if (status == domain.BookingStatusAwaitingPayment || status == domain.BookingStatusCompleted) && b.PaymentStatus == domain.PaymentStatusUnpaid {
			b.PaymentStatus = domain.PaymentStatusAwaiting
		}
		b.UpdatedAt = at
		return nil
	})
}

func (m *MockBookingRepository) Cancel(ctx context.Context, id, reason string, at time.Time) error {
	return m.write(id, func(b *domain.Booking) error {
		if b.Status.IsTerminal() {
			return repository.ErrConflict
		}
		b.Status = domain.BookingStatusCancelled
		b.CancelReason = reason
		b.CancelledAt = at
		return nil
	})
}

func (m *MockBookingRepository) SaveClientRating(ctx context.Context, id string, rating domain.Rating) error {
	atomic.AddInt32(&m.SaveClientRatingCallCount, 1)
	return m.write(id, func(b *domain.Booking) error {
		if b.ClientRating != nil {
			return repository.ErrConflict
		}
		r := rating
		b.ClientRating = &r
		return nil
	})
}

func (m *MockBookingRepository) SaveFinalPricing(ctx context.Context, id string, breakdown domain.PricingBreakdown) error {
	atomic.AddInt32(&m.SaveFinalPricingCallCount, 1)
	if m.SaveFinalPricingError != nil {
		return m.SaveFinalPricingError
	}
	m.mu.Lock()
	b, ok := m.bookings[id]
	if !ok {
		m.mu.Unlock()
		return repository.ErrNotFound
	}
	if b.FinalPricing != nil {
		m.mu.Unlock()
		return nil
	}
	bd := breakdown
	b.FinalPricing = &bd
	m.mu.Unlock()
	m.notify(id)
	return nil
}

func (m *MockBookingRepository) SaveJobDuration(ctx context.Context, id string, seconds int64) error {
	atomic.AddInt32(&m.SaveJobDurationCallCount, 1)
	m.mu.Lock()
	b, ok := m.bookings[id]
	if !ok {
		m.mu.Unlock()
		return repository.ErrNotFound
	}
	if b.JobTimer.DurationSeconds > 0 {
		m.mu.Unlock()
		return nil
	}
	b.JobTimer.DurationSeconds = seconds
	m.mu.Unlock()
	m.notify(id)
	return nil
}

func (m *MockBookingRepository) ConfirmPayment(ctx context.Context, id string, at time.Time) error {
	atomic.AddInt32(&m.ConfirmPaymentCallCount, 1)
	return m.write(id, func(b *domain.Booking) error {
		if b.Status != domain.BookingStatusCompleted {
			return repository.ErrConflict
		}
		b.Status = domain.BookingStatusPaymentConfirmed
		b.PaymentStatus = domain.PaymentStatusConfirmed
		b.UpdatedAt = at
		return nil
	})
}

// ──────────────────────────────────────────────
// MOCK PRICING REPOSITORY
// ──────────────────────────────────────────────

// MockPricingRepository is a mock implementation of PricingRepository.
type MockPricingRepository struct {
	mu     sync.RWMutex
	models map[string]*domain.PricingModel

	GetModelCallCount int32
	GetModelError     error
}

// NewMockPricingRepository creates a new mock pricing repository.
func NewMockPricingRepository() *MockPricingRepository {
	return &MockPricingRepository{models: make(map[string]*domain.PricingModel)}
}

// AddModel adds a pricing model.
func (m *MockPricingRepository) AddModel(model *domain.PricingModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model.CategoryID+"/"+model.ServiceID] = model
}

func (m *MockPricingRepository) GetModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	atomic.AddInt32(&m.GetModelCallCount, 1)
	if m.GetModelError != nil {
		return nil, m.GetModelError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[categoryID+"/"+serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *model
	return &cp, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore keeps the latest sample per worker.
type MockLocationStore struct {
	mu      sync.RWMutex
	latest  map[string]domain.WorkerLocationSample
	Updates int32
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{latest: make(map[string]domain.WorkerLocationSample)}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, sample domain.WorkerLocationSample) error {
	atomic.AddInt32(&m.Updates, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[sample.WorkerID] = sample
	return nil
}

func (m *MockLocationStore) LatestLocation(ctx context.Context, workerID string) (*domain.WorkerLocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[workerID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// ──────────────────────────────────────────────
// MOCK NOTIFICATION PUBLISHER
// ──────────────────────────────────────────────

// MockNotificationPublisher records published notifications.
type MockNotificationPublisher struct {
	mu            sync.Mutex
	notifications []service.Notification
	PublishError  error
}

func (m *MockNotificationPublisher) Publish(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishError != nil {
		return m.PublishError
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// Count returns how many notifications of typ were published.
func (m *MockNotificationPublisher) Count(typ service.NotificationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, x := range m.notifications {
		if x.Type == typ {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK GEOCODER
// ──────────────────────────────────────────────

// MockGeocoder returns a fixed address or error.
type MockGeocoder struct {
	Address string
	Err     error
	Calls   int32
}

func (m *MockGeocoder) ReverseGeocode(ctx context.Context, p domain.Point) (string, error) {
	atomic.AddInt32(&m.Calls, 1)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Address, nil
}

// ──────────────────────────────────────────────
// MOCK SESSION LOCKER
// ──────────────────────────────────────────────

// MockSessionLocker is an in-memory SessionLocker.
type MockSessionLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	Error error

	RefreshCallCount int32
}

// NewMockSessionLocker creates a new mock locker.
func NewMockSessionLocker() *MockSessionLocker {
	return &MockSessionLocker{held: make(map[string]bool)}
}

func (m *MockSessionLocker) AcquireSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error) {
	if m.Error != nil {
		return false, m.Error
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bookingID + "/" + deviceID
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *MockSessionLocker) RefreshSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.RefreshCallCount, 1)
	if m.Error != nil {
		return false, m.Error
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[bookingID+"/"+deviceID], nil
}

// Expire drops a lock as if its TTL ran out.
func (m *MockSessionLocker) Expire(bookingID, deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, bookingID+"/"+deviceID)
}

func (m *MockSessionLocker) ReleaseSessionLock(ctx context.Context, bookingID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, bookingID+"/"+deviceID)
	return nil
}

// Held reports whether the lock for a booking and device is held.
func (m *MockSessionLocker) Held(bookingID, deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[bookingID+"/"+deviceID]
}

// ──────────────────────────────────────────────
// EVENT RECORDER
// ──────────────────────────────────────────────

// EventRecorder is an EventSink that keeps every event in order.
type EventRecorder struct {
	mu     sync.Mutex
	events []service.Event
}

func (r *EventRecorder) Emit(e service.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []service.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.Event(nil), r.events...)
}

// Count returns how many events of typ were recorded.
func (r *EventRecorder) Count(typ service.EventType) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// StatusCount returns how many status events announced status.
func (r *EventRecorder) StatusCount(status domain.BookingStatus) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == service.EventStatus && e.Status == status {
			n++
		}
	}
	return n
}

// Index returns the position of the first event of typ, or -1.
func (r *EventRecorder) Index(typ service.EventType) int {
	for i, e := range r.Events() {
		if e.Type == typ {
			return i
		}
	}
	return -1
}

// LastIndex returns the position of the last event of typ, or -1.
func (r *EventRecorder) LastIndex(typ service.EventType) int {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return i
		}
	}
	return -1
}

var errInjected = errors.New("injected failure")
