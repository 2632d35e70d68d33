package repository

import (
	"context"
	"time"

	"booking/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
// Every write notifies booking change subscribers.
type BookingRepository interface {
	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// UpdateStatus records a worker-side status action. Entering service-started
	// stamps the job start time and entering awaiting-payment stamps the end time.
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) error

	// Cancel marks a non-terminal booking cancelled.
	// Returns ErrConflict if the booking is already terminal.
	Cancel(ctx context.Context, id, reason string, at time.Time) error

	// SaveClientRating stores the client's rating.
	// Returns ErrConflict if a rating is already stored.
	SaveClientRating(ctx context.Context, id string, rating domain.Rating) error

	// SaveFinalPricing stores the final breakdown unless one is already stored.
	SaveFinalPricing(ctx context.Context, id string, breakdown domain.PricingBreakdown) error

	// SaveJobDuration stores the job duration unless one is already stored.
	SaveJobDuration(ctx context.Context, id string, seconds int64) error

	// ConfirmPayment moves a completed booking to payment-confirmed.
	// Returns ErrConflict unless the booking is completed.
	ConfirmPayment(ctx context.Context, id string, at time.Time) error
}
