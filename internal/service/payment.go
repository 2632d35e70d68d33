package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"booking/internal/domain"
	"booking/internal/repository"
)

// PaymentService handles the worker-side payment confirmation. Collecting the
// payment proof itself is handled elsewhere.
type PaymentService struct {
	bookings repository.BookingRepository
	now      func() time.Time
	log      *slog.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(bookings repository.BookingRepository, log *slog.Logger) *PaymentService {
	return &PaymentService{
		bookings: bookings,
		now:      time.Now,
		log:      log,
	}
}

// ConfirmPayment marks a completed booking as paid. The store rejects
// bookings that are not completed yet.
func (s *PaymentService) ConfirmPayment(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch b.Status {
	case domain.BookingStatusPaymentConfirmed:
		// Already confirmed.
		return b, nil
	case domain.BookingStatusCompleted:
	default:
		return nil, ErrBookingNotCompleted
	}

	if err := s.bookings.ConfirmPayment(ctx, bookingID, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrBookingNotCompleted
		}
		return nil, err
	}

	s.log.Info("payment confirmed", "booking_id", bookingID)
	return s.bookings.GetByID(ctx, bookingID)
}
