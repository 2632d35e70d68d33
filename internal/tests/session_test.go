package tests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/domain"
	"booking/internal/repository"
	"booking/internal/service"
)

// finishedBooking returns a booking whose 65 minute job has ended.
func finishedBooking(id string) *domain.Booking {
	b := newBooking(id)
	b.Status = domain.BookingStatusAwaitingPayment
	b.JobTimer.StartedAt = time.Now().Add(-2 * time.Hour)
	b.JobTimer.EndedAt = b.JobTimer.StartedAt.Add(65 * time.Minute)
	b.PaymentStatus = domain.PaymentStatusAwaiting
	return b
}

// ──────────────────────────────────────────────
// 3. RATING AND PAYMENT
// ──────────────────────────────────────────────

func TestRating_RejectedValues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := newBooking("b-rate")
	b.Status = domain.BookingStatusServiceStarted
	b.JobTimer.StartedAt = time.Now().Add(-5 * time.Minute)
	s := h.open(b)
	ctx := context.Background()

	_, err := s.SubmitRating(ctx, 0, "")
	assert.ErrorIs(t, err, service.ErrRatingRequired)

	_, err = s.SubmitRating(ctx, 6, "")
	assert.ErrorIs(t, err, service.ErrInvalidRating)

	_, err = s.SubmitRating(ctx, 4, "")
	assert.ErrorIs(t, err, service.ErrRatingNotAvailable, "job still in progress")

	assert.Zero(t, atomic.LoadInt32(&h.repo.SaveClientRatingCallCount))
	assert.Nil(t, h.repo.GetBooking("b-rate").ClientRating)
}

func TestRating_ReopenedSessionSkipsPrompt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := finishedBooking("b-rated")
	b.ClientRating = &domain.Rating{Value: 4, SubmittedAt: time.Now()}
	s := h.open(b)

	require.Eventually(t, func() bool {
		return h.recorder.Count(service.EventPricingBreakdownReady) == 1
	}, waitFor, tick)
	assert.Zero(t, h.recorder.Count(service.EventRatingPromptReady))

	_, err := s.SubmitRating(context.Background(), 5, "")
	assert.ErrorIs(t, err, service.ErrRatingAlreadySubmitted)
}

func TestRating_StoredBreakdownIsReused(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := finishedBooking("b-stored")
	b.FinalPricing = &domain.PricingBreakdown{BasePrice: 100, ServiceCharge: 10, TransportFee: 50, Total: 160, WorkerEarnings: 150, PricingType: domain.PricingTypeFixed}
	s := h.open(b)

	breakdown, err := s.SubmitRating(context.Background(), 5, "")
	require.NoError(t, err)
	assert.Equal(t, 160.0, breakdown.Total)
	assert.Zero(t, atomic.LoadInt32(&h.pricing.GetModelCallCount))
	assert.Zero(t, atomic.LoadInt32(&h.repo.SaveFinalPricingCallCount))
}

func TestPricing_FallsBackToEstimate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pricing.GetModelError = errInjected
	s := h.open(finishedBooking("b-fallback"))

	breakdown, err := s.SubmitRating(context.Background(), 3, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingTypeFixed, breakdown.PricingType)
	assert.Equal(t, 400.0, breakdown.BasePrice)
	assert.Equal(t, 40.0, breakdown.ServiceCharge)
	assert.Equal(t, 50.0, breakdown.TransportFee)
	assert.Equal(t, 490.0, breakdown.Total)

	assert.Zero(t, atomic.LoadInt32(&h.repo.SaveFinalPricingCallCount), "estimates are never stored as final pricing")
	assert.Nil(t, h.repo.GetBooking("b-fallback").FinalPricing)
	assert.Equal(t, 1, h.recorder.Count(service.EventPricingBreakdownReady))
}

func TestPricing_EstimateTransportFeeOverridesDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := finishedBooking("b-fee")
	b.Pricing.TransportFee = 80
	s := h.open(b)

	breakdown, err := s.SubmitRating(context.Background(), 5, "")
	require.NoError(t, err)
	assert.Equal(t, 80.0, breakdown.TransportFee)
	assert.Equal(t, 355.0, breakdown.Total)
	assert.Equal(t, 330.0, breakdown.WorkerEarnings)
}

func TestPayment_ConfirmRequiresCompleted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(finishedBooking("b-pay"))
	ctx := context.Background()

	_, err := h.paymentSvc.ConfirmPayment(ctx, "b-pay")
	assert.ErrorIs(t, err, service.ErrBookingNotCompleted)

	_, err = h.paymentSvc.ConfirmPayment(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = h.paymentSvc.ConfirmPayment(ctx, "")
	assert.ErrorIs(t, err, service.ErrInvalidBookingID)

	h.repo.Mutate("b-pay", false, func(b *domain.Booking) { b.Status = domain.BookingStatusCompleted })
	first, err := h.paymentSvc.ConfirmPayment(ctx, "b-pay")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPaymentConfirmed, first.Status)

	// Confirming again is a no-op.
	again, err := h.paymentSvc.ConfirmPayment(ctx, "b-pay")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPaymentConfirmed, again.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.repo.ConfirmPaymentCallCount))
}

func TestBookingService_UpdateStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := newBooking("b-upd")
	b.Status = domain.BookingStatusOnTheWay
	h.repo.AddBooking(b)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		status  string
		wantErr error
	}{
		{"empty id", "", "accepted", service.ErrInvalidBookingID},
		{"unknown status", "b-upd", "teleported", service.ErrInvalidStatus},
		{"cancel needs its own action", "b-upd", "cancelled", service.ErrStatusRequiresAction},
		{"payment needs its own action", "b-upd", "payment-confirmed", service.ErrStatusRequiresAction},
		{"backward", "b-upd", "accepted", service.ErrInvalidTransition},
		{"unknown booking", "missing", "accepted", repository.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.bookingSvc.UpdateStatus(ctx, service.UpdateStatusRequest{BookingID: tt.id, Status: tt.status})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	updated, err := h.bookingSvc.UpdateStatus(ctx, service.UpdateStatusRequest{BookingID: "b-upd", Status: "service-started"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusServiceStarted, updated.Status)
	assert.True(t, updated.JobTimer.HasStart())

	require.NoError(t, h.bookingSvc.CancelBooking(ctx, "b-upd", "worker sick"))
	_, err = h.bookingSvc.UpdateStatus(ctx, service.UpdateStatusRequest{BookingID: "b-upd", Status: "awaiting-payment"})
	assert.ErrorIs(t, err, service.ErrBookingTerminal)
	assert.ErrorIs(t, h.bookingSvc.CancelBooking(ctx, "b-upd", "again"), service.ErrBookingTerminal)
}

func TestBookingService_PreviewBreakdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.AddBooking(finishedBooking("b-preview"))
	ctx := context.Background()

	resolved, fellBack, err := h.bookingSvc.PreviewBreakdown(ctx, "b-preview", 0)
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.Equal(t, 325.0, resolved.Total)

	twoHours, _, err := h.bookingSvc.PreviewBreakdown(ctx, "b-preview", 7200)
	require.NoError(t, err)
	assert.Equal(t, 400.0, twoHours.BasePrice)

	assert.Nil(t, h.repo.GetBooking("b-preview").FinalPricing)
}

// ──────────────────────────────────────────────
// 4. CANCELLATION
// ──────────────────────────────────────────────

func TestCancel_ReleasesSessionResources(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := newBooking("b-cancel")
	b.Status = domain.BookingStatusOnTheWay
	s := h.open(b)
	ctx := context.Background()
	require.True(t, h.state(s).Tracking)

	require.NoError(t, s.Cancel(ctx, "changed plans"))
	h.waitStatus(s, domain.BookingStatusCancelled)

	assert.Equal(t, 1, h.recorder.Count(service.EventShowMessage))
	assert.Equal(t, 1, h.recorder.Count(service.EventTrackingInactive))
	assert.Equal(t, 1, h.publisher.Count(service.NotificationBookingCancelled))
	require.Eventually(t, func() bool { return s.OpenResources() == 0 }, waitFor, tick)
	assert.Zero(t, h.bookings.Subscribers("b-cancel"))
	assert.Zero(t, h.workers.Subscribers("worker-1"))

	stored := h.repo.GetBooking("b-cancel")
	assert.Equal(t, "changed plans", stored.CancelReason)
	assert.False(t, stored.CancelledAt.IsZero())

	assert.ErrorIs(t, s.Cancel(ctx, "again"), service.ErrBookingTerminal)
	_, err := s.SubmitRating(ctx, 5, "")
	assert.ErrorIs(t, err, service.ErrBookingTerminal)
	assert.True(t, h.state(s).Coordinator.Cancelled)
}

func TestCancel_DiscardsPendingPrompt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(finishedBooking("b-cancel-late"))
	require.True(t, h.state(s).Coordinator.RatingPromptOpen)

	h.repo.Mutate("b-cancel-late", true, func(b *domain.Booking) { b.Status = domain.BookingStatusCancelled })
	h.waitStatus(s, domain.BookingStatusCancelled)

	st := h.state(s)
	assert.False(t, st.Coordinator.RatingPromptOpen)
	assert.Nil(t, st.Coordinator.Breakdown)
	assert.Zero(t, h.recorder.Count(service.EventPricingBreakdownReady))
}

// ──────────────────────────────────────────────
// 5. ADDRESS RESOLUTION
// ──────────────────────────────────────────────

func TestAddress_ReverseGeocoded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(newBooking("b-geo"))

	require.Eventually(t, func() bool { return h.state(s).Address == "1 Rizal Ave, Manila" }, waitFor, tick)
	assert.Equal(t, 1, h.recorder.Count(service.EventAddress))
}

func TestAddress_FallsBackToCoordinates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.geocoder.Err = errInjected
	s := h.open(newBooking("b-geo-fail"))

	require.Eventually(t, func() bool { return h.state(s).Address == "14.599500, 120.984200" }, waitFor, tick)
}

func TestAddress_StoredAddressSkipsGeocoder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := newBooking("b-geo-stored")
	b.Location.Address = "22 Mabini St"
	s := h.open(b)

	assert.Equal(t, "22 Mabini St", h.state(s).Address)
	assert.Zero(t, atomic.LoadInt32(&h.geocoder.Calls))
}
