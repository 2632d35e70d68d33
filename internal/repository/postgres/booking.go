package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking/internal/domain"
	"booking/internal/repository"
)

// BookingChangesChannel is the NOTIFY channel written on every booking update.
const BookingChangesChannel = "booking_changes"

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
// Notifications are delivered when the transaction commits.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

type breakdownRecord struct {
	BasePrice       float64 `json:"base_price"`
	ServiceCharge   float64 `json:"service_charge"`
	TransportFee    float64 `json:"transport_fee"`
	Total           float64 `json:"total"`
	WorkerEarnings  float64 `json:"worker_earnings"`
	PricingType     string  `json:"pricing_type"`
	DurationSeconds int64   `json:"duration_seconds"`
}

const selectBooking = `
	SELECT id, client_id, COALESCE(worker_id, ''), category_id, service_id, status, scheduled_date,
		location_lat, location_lng, COALESCE(location_address, ''),
		estimate_base_price, estimate_service_charge, estimate_transport_fee, estimate_total,
		job_started_at, job_ended_at, job_duration_seconds, job_actual_seconds,
		final_pricing,
		client_rating, COALESCE(client_rating_comment, ''), client_rated_at,
		worker_rating, COALESCE(worker_rating_comment, ''), worker_rated_at,
		payment_status, COALESCE(cancel_reason, ''), cancelled_at, created_at, updated_at
	FROM bookings WHERE id = $1
`

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	var (
		b                            domain.Booking
		startedAt, endedAt           sql.NullTime
		durationSecs, actualSecs     sql.NullInt64
		finalPricing                 []byte
		clientValue, workerValue     sql.NullInt64
		clientComment, workerComment string
		clientAt, workerAt           sql.NullTime
		cancelledAt                  sql.NullTime
	)

	err := r.q.QueryRowContext(ctx, selectBooking, id).Scan(
		&b.ID,
		&b.ClientID,
		&b.WorkerID,
		&b.CategoryID,
		&b.ServiceID,
		&b.Status,
		&b.ScheduledDate,
		&b.Location.Lat,
		&b.Location.Lng,
		&b.Location.Address,
		&b.Pricing.BasePrice,
		&b.Pricing.ServiceCharge,
		&b.Pricing.TransportFee,
		&b.Pricing.Total,
		&startedAt,
		&endedAt,
		&durationSecs,
		&actualSecs,
		&finalPricing,
		&clientValue,
		&clientComment,
		&clientAt,
		&workerValue,
		&workerComment,
		&workerAt,
		&b.PaymentStatus,
		&b.CancelReason,
		&cancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if startedAt.Valid {
		b.JobTimer.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		b.JobTimer.EndedAt = endedAt.Time
	}
	b.JobTimer.DurationSeconds = durationSecs.Int64
	b.JobTimer.ActualSeconds = actualSecs.Int64
	if cancelledAt.Valid {
		b.CancelledAt = cancelledAt.Time
	}

	if len(finalPricing) > 0 {
		var rec breakdownRecord
		if err := json.Unmarshal(finalPricing, &rec); err != nil {
			return nil, fmt.Errorf("decode final pricing of booking %s: %w", id, err)
		}
		b.FinalPricing = &domain.PricingBreakdown{
			BasePrice:       rec.BasePrice,
			ServiceCharge:   rec.ServiceCharge,
			TransportFee:    rec.TransportFee,
			Total:           rec.Total,
			WorkerEarnings:  rec.WorkerEarnings,
			PricingType:     domain.PricingType(rec.PricingType),
			DurationSeconds: rec.DurationSeconds,
		}
	}
	b.ClientRating = scanRating(clientValue, clientComment, clientAt)
	b.WorkerRating = scanRating(workerValue, workerComment, workerAt)

	return &b, nil
}

func scanRating(value sql.NullInt64, comment string, at sql.NullTime) *domain.Rating {
	if !value.Valid {
		return nil
	}
	rating := &domain.Rating{Value: int(value.Int64), Comment: comment}
	if at.Valid {
		rating.SubmittedAt = at.Time
	}
	return rating
}

// UpdateStatus records a worker status action on a non-terminal booking.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, at time.Time) error {
	query := `
		UPDATE bookings SET
			status = $2,
			job_started_at = CASE WHEN $2 = 'service-started' AND job_started_at IS NULL THEN $3 ELSE job_started_at END,
			job_ended_at = CASE WHEN $2 = 'awaiting-payment' AND job_ended_at IS NULL THEN $3 ELSE job_ended_at END,
			payment_status = CASE WHEN $2 IN ('awaiting-payment', 'completed') AND payment_status = 'unpaid' THEN 'awaiting' ELSE payment_status END,
			updated_at = $3
		WHERE id = $1 AND status NOT IN ('payment-confirmed', 'cancelled')
	`
	return r.write(ctx, id, query, id, status, at)
}

// Cancel marks a non-terminal booking cancelled.
func (r *BookingRepository) Cancel(ctx context.Context, id, reason string, at time.Time) error {
	query := `
		UPDATE bookings SET status = 'cancelled', cancel_reason = $2, cancelled_at = $3, updated_at = $3
		WHERE id = $1 AND status NOT IN ('payment-confirmed', 'cancelled')
	`
	return r.write(ctx, id, query, id, reason, at)
}

// SaveClientRating stores the client's rating once.
func (r *BookingRepository) SaveClientRating(ctx context.Context, id string, rating domain.Rating) error {
	query := `
		UPDATE bookings SET client_rating = $2, client_rating_comment = $3, client_rated_at = $4, updated_at = $4
		WHERE id = $1 AND client_rating IS NULL
	`
	return r.write(ctx, id, query, id, rating.Value, rating.Comment, rating.SubmittedAt)
}

// SaveFinalPricing stores the final breakdown. An existing breakdown is kept.
func (r *BookingRepository) SaveFinalPricing(ctx context.Context, id string, breakdown domain.PricingBreakdown) error {
	data, err := json.Marshal(breakdownRecord{
		BasePrice:       breakdown.BasePrice,
		ServiceCharge:   breakdown.ServiceCharge,
		TransportFee:    breakdown.TransportFee,
		Total:           breakdown.Total,
		WorkerEarnings:  breakdown.WorkerEarnings,
		PricingType:     string(breakdown.PricingType),
		DurationSeconds: breakdown.DurationSeconds,
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE bookings SET final_pricing = $2, updated_at = NOW()
		WHERE id = $1 AND final_pricing IS NULL
	`
	err = r.write(ctx, id, query, id, data)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

// SaveJobDuration stores the job duration. An existing duration is kept.
func (r *BookingRepository) SaveJobDuration(ctx context.Context, id string, seconds int64) error {
	query := `
		UPDATE bookings SET job_duration_seconds = $2, updated_at = NOW()
		WHERE id = $1 AND job_duration_seconds IS NULL
	`
	err := r.write(ctx, id, query, id, seconds)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

// ConfirmPayment moves a completed booking to payment-confirmed.
func (r *BookingRepository) ConfirmPayment(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE bookings SET status = 'payment-confirmed', payment_status = 'confirmed', updated_at = $2
		WHERE id = $1 AND status = 'completed'
	`
	return r.write(ctx, id, query, id, at)
}

// write runs a guarded update and notifies listeners when a row changed.
// No affected row means the booking is missing or the guard rejected the update.
func (r *BookingRepository) write(ctx context.Context, id, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.missingOrConflict(ctx, id)
	}

	return notify(ctx, r.q, BookingChangesChannel, id)
}

func (r *BookingRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// Ensure interface is satisfied.
var _ repository.BookingRepository = (*BookingRepository)(nil)
