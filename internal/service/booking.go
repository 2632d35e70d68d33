package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"booking/internal/domain"
	"booking/internal/repository"
)

// BookingService handles worker-side booking actions.
type BookingService struct {
	bookings repository.BookingRepository
	pricing  *PricingService
	fallback time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(bookings repository.BookingRepository, pricing *PricingService, fallback time.Duration, log *slog.Logger) *BookingService {
	return &BookingService{
		bookings: bookings,
		pricing:  pricing,
		fallback: fallback,
		now:      time.Now,
		log:      log,
	}
}

// GetBooking retrieves a booking by ID.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	return s.bookings.GetByID(ctx, bookingID)
}

// UpdateStatusRequest contains the parameters for a worker status action.
type UpdateStatusRequest struct {
	BookingID string
	Status    string
}

// UpdateStatus records a worker action such as accept, depart, arrive, start or complete.
// Cancellation and payment confirmation have their own actions.
func (s *BookingService) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*domain.Booking, error) {
	if req.BookingID == "" {
		return nil, ErrInvalidBookingID
	}

	next, ok := domain.ParseBookingStatus(req.Status)
	if !ok {
		return nil, ErrInvalidStatus
	}
	if next == domain.BookingStatusCancelled || next == domain.BookingStatusPaymentConfirmed {
		return nil, ErrStatusRequiresAction
	}

	b, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() {
		return nil, ErrBookingTerminal
	}
	if !CanTransition(b.Status, next) {
		return nil, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, b.Status, next)
	}

	if err := s.bookings.UpdateStatus(ctx, req.BookingID, next, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: booking changed concurrently", ErrInvalidTransition)
		}
		return nil, err
	}

	s.log.Info("booking status updated", "booking_id", req.BookingID, "from", b.Status, "to", next)
	return s.bookings.GetByID(ctx, req.BookingID)
}

// CancelBooking cancels a booking outside of a session.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, reason string) error {
	if bookingID == "" {
		return ErrInvalidBookingID
	}
	err := s.bookings.Cancel(ctx, bookingID, reason, s.now())
	if errors.Is(err, repository.ErrConflict) {
		return ErrBookingTerminal
	}
	return err
}

// PreviewBreakdown prices a booking for a given duration without storing anything.
// A non-positive duration uses the booking's resolved job duration.
func (s *BookingService) PreviewBreakdown(ctx context.Context, bookingID string, durationSeconds int64) (domain.PricingBreakdown, bool, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.PricingBreakdown{}, false, err
	}
	if b.FinalPricing != nil && durationSeconds <= 0 {
		return *b.FinalPricing, false, nil
	}
	if durationSeconds <= 0 {
		durationSeconds = ResolveDuration(b.JobTimer, s.fallback)
	}
	breakdown, fellBack := s.pricing.ComputeForBooking(ctx, b, durationSeconds)
	return breakdown, fellBack, nil
}
