package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"booking/internal/domain"
	"booking/internal/geo"
	"booking/internal/observability"
)

// LocationFeed delivers live worker location samples.
type LocationFeed interface {
	Subscribe(ctx context.Context, workerID string, deliver func(domain.WorkerLocationSample)) (unsubscribe func(), err error)
}

// LocationReader returns the latest known location of a worker, or nil when none is known.
type LocationReader interface {
	LatestLocation(ctx context.Context, workerID string) (*domain.WorkerLocationSample, error)
}

// ShouldTrack reports whether the worker of b should be tracked at now.
// Bookings scheduled on another day are never tracked.
func ShouldTrack(b *domain.Booking, now time.Time) bool {
	return b != nil && b.WorkerID != "" && InTrackingWindow(b.Status) && b.ScheduledOn(now)
}

// Tracker follows one worker's position relative to the client.
// It holds at most one feed subscription and is not safe for concurrent use.
type Tracker struct {
	feed     LocationFeed
	reader   LocationReader
	speedKmh float64
	log      *slog.Logger

	unsubscribe func()
	workerID    string
	client      domain.Point
	last        *domain.WorkerLocationSample
	estimate    *domain.DistanceEstimate
}

// NewTracker creates an inactive Tracker.
func NewTracker(feed LocationFeed, reader LocationReader, speedKmh float64, log *slog.Logger) *Tracker {
	return &Tracker{
		feed:     feed,
		reader:   reader,
		speedKmh: speedKmh,
		log:      log,
	}
}

// Activate subscribes to the worker's feed. It returns false without
// subscribing again if the tracker is already active.
func (t *Tracker) Activate(ctx context.Context, b *domain.Booking, deliver func(domain.WorkerLocationSample)) (bool, error) {
	if t.Active() {
		return false, nil
	}
	if b.WorkerID == "" {
		return false, ErrInvalidWorkerID
	}

	unsubscribe, err := t.feed.Subscribe(ctx, b.WorkerID, deliver)
	if err != nil {
		return false, fmt.Errorf("subscribe to worker %s location: %w", b.WorkerID, err)
	}

	t.unsubscribe = unsubscribe
	t.workerID = b.WorkerID
	t.client = b.Location.Point
	observability.OpenSubscriptions.Inc()
	return true, nil
}

// WorkerID returns the worker currently followed, or "" when inactive.
func (t *Tracker) WorkerID() string { return t.workerID }

// Deactivate releases the subscription and discards cached state.
func (t *Tracker) Deactivate() bool {
	if !t.Active() {
		return false
	}
	t.unsubscribe()
	observability.OpenSubscriptions.Dec()
	t.unsubscribe = nil
	t.workerID = ""
	t.last = nil
	t.estimate = nil
	return true
}

// Active reports whether a subscription is held.
func (t *Tracker) Active() bool {
	return t.unsubscribe != nil
}

// SetClientLocation updates the destination used for estimates.
func (t *Tracker) SetClientLocation(p domain.Point) {
	t.client = p
}

// OnSample recomputes the estimate from a sample. Samples for other workers,
// or older than the last applied one, are ignored and return the current estimate.
// A (0, 0) sample yields ErrLocationUnavailable.
func (t *Tracker) OnSample(s domain.WorkerLocationSample) (*domain.DistanceEstimate, error) {
	if !t.Active() || s.WorkerID != t.workerID {
		return t.estimate, nil
	}
	if t.last != nil && !s.Timestamp.IsZero() && s.Timestamp.Before(t.last.Timestamp) {
		return t.estimate, nil
	}
	if s.Point().IsZero() || !s.Point().Valid() {
		return nil, ErrLocationUnavailable
	}

	sample := s
	t.last = &sample
	est := geo.Estimate(s.Point(), t.client, t.speedKmh)
	t.estimate = &est
	observability.LocationSamplesTotal.Inc()
	return t.estimate, nil
}

// Poll re-reads the latest stored location and applies it like a feed sample.
func (t *Tracker) Poll(ctx context.Context) (*domain.DistanceEstimate, error) {
	if !t.Active() {
		return nil, nil
	}
	sample, err := t.reader.LatestLocation(ctx, t.workerID)
	if err != nil {
		observability.LocationPollsTotal.WithLabelValues("error").Inc()
		return t.estimate, err
	}
	if sample == nil {
		observability.LocationPollsTotal.WithLabelValues("empty").Inc()
		if t.estimate == nil {
			return nil, ErrLocationUnavailable
		}
		return t.estimate, nil
	}
	observability.LocationPollsTotal.WithLabelValues("ok").Inc()
	return t.OnSample(*sample)
}

// Estimate returns the latest estimate, or nil while locating.
func (t *Tracker) Estimate() *domain.DistanceEstimate {
	return t.estimate
}
