package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"booking/internal/domain"
	"booking/internal/observability"
)

// ErrInvalidSample is returned for samples without a worker or with
// out-of-range coordinates.
var ErrInvalidSample = errors.New("invalid location sample")

// LocationWriter persists the latest worker location.
type LocationWriter interface {
	UpdateLocation(ctx context.Context, sample domain.WorkerLocationSample) error
}

// LocationFeed stores worker samples and fans them out to tracking sessions.
type LocationFeed struct {
	hub      *Hub[domain.WorkerLocationSample]
	store    LocationWriter
	attempts int
	delay    time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewLocationFeed creates a LocationFeed writing through store.
func NewLocationFeed(store LocationWriter, log *slog.Logger) *LocationFeed {
	return &LocationFeed{
		hub:      NewHub[domain.WorkerLocationSample](),
		store:    store,
		attempts: 3,
		delay:    200 * time.Millisecond,
		now:      time.Now,
		log:      log,
	}
}

// Subscribe registers deliver for one worker's samples.
func (f *LocationFeed) Subscribe(ctx context.Context, workerID string, deliver func(domain.WorkerLocationSample)) (func(), error) {
	return f.hub.Subscribe(ctx, workerID, deliver)
}

// Ingest validates, stores and publishes a sample. A failed store write is
// reported but the sample is still published to live subscribers.
func (f *LocationFeed) Ingest(ctx context.Context, sample domain.WorkerLocationSample) error {
	if sample.WorkerID == "" || !sample.Point().Valid() {
		return ErrInvalidSample
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = f.now()
	}

	var storeErr error
	if f.store != nil {
		if err := updateWithRetry(ctx, f.store, sample, f.attempts, f.delay); err != nil {
			observability.RedisWriteErrorsTotal.Inc()
			storeErr = fmt.Errorf("store location for worker %s: %w", sample.WorkerID, err)
		}
	}

	f.hub.Publish(sample.WorkerID, sample)
	return storeErr
}

// Subscribers returns the number of sessions following a worker.
func (f *LocationFeed) Subscribers(workerID string) int {
	return f.hub.Subscribers(workerID)
}

// Close drops every subscription.
func (f *LocationFeed) Close() {
	f.hub.Close()
}

// updateWithRetry writes a sample, doubling delay between failed attempts.
func updateWithRetry(ctx context.Context, w LocationWriter, sample domain.WorkerLocationSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.UpdateLocation(ctx, sample); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
