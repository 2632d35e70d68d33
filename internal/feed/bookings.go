package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"booking/internal/domain"
	"booking/internal/repository"
)

// BookingChannel is the postgres NOTIFY channel carrying changed booking IDs.
const BookingChannel = "booking_changes"

// BookingLoader reads the stored booking.
type BookingLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
}

// BookingFeed publishes fresh booking snapshots to sessions subscribed by booking ID.
type BookingFeed struct {
	hub    *Hub[*domain.Booking]
	loader BookingLoader
	log    *slog.Logger
}

// NewBookingFeed creates a BookingFeed that loads snapshots through loader.
func NewBookingFeed(loader BookingLoader, log *slog.Logger) *BookingFeed {
	return &BookingFeed{
		hub:    NewHub[*domain.Booking](),
		loader: loader,
		log:    log,
	}
}

// Subscribe registers deliver for a booking. Each subscriber receives its own copy.
func (f *BookingFeed) Subscribe(ctx context.Context, bookingID string, deliver func(*domain.Booking)) (func(), error) {
	return f.hub.Subscribe(ctx, bookingID, func(b *domain.Booking) {
		cp := *b
		deliver(&cp)
	})
}

// Refresh re-reads a booking and publishes it to its subscribers.
// Bookings nobody follows are not loaded.
func (f *BookingFeed) Refresh(ctx context.Context, bookingID string) error {
	if f.hub.Subscribers(bookingID) == 0 {
		return nil
	}
	b, err := f.loader.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	f.hub.Publish(bookingID, b)
	return nil
}

// RefreshAll republishes every followed booking.
func (f *BookingFeed) RefreshAll(ctx context.Context) {
	for _, id := range f.hub.Keys() {
		if err := f.Refresh(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			f.log.Warn("booking refresh failed", "booking_id", id, "error", err)
		}
	}
}

// Subscribers returns the number of sessions following a booking.
func (f *BookingFeed) Subscribers(bookingID string) int {
	return f.hub.Subscribers(bookingID)
}

// Close drops every subscription.
func (f *BookingFeed) Close() {
	f.hub.Close()
}

// ListenPostgres follows the booking change channel until ctx is done.
// A reconnect republishes every followed booking since notifications may
// have been missed while disconnected.
func (f *BookingFeed) ListenPostgres(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.Warn("booking listener event", "event", int(ev), "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(BookingChannel); err != nil {
		return fmt.Errorf("listen %s: %w", BookingChannel, err)
	}
	f.log.Info("listening for booking changes", "channel", BookingChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				f.RefreshAll(ctx)
				continue
			}
			if err := f.Refresh(ctx, n.Extra); err != nil {
				f.log.Warn("booking refresh failed", "booking_id", n.Extra, "error", err)
			}
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					f.log.Warn("booking listener ping failed", "error", err)
				}
			}()
		}
	}
}
