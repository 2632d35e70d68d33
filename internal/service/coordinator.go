package service

import (
	"time"

	"booking/internal/domain"
)

// CoordinatorState is a read-only view of the rating and payment sequence.
type CoordinatorState struct {
	RatingPromptOpen bool
	RatingSubmitted  bool
	BreakdownShown   bool
	PaymentConfirmed bool
	Cancelled        bool
	Breakdown        *domain.PricingBreakdown
}

// Coordinator sequences the end of a booking: rating prompt, payment breakdown,
// then payment confirmation. Each presentation happens at most once.
// It is not safe for concurrent use.
type Coordinator struct {
	sink EventSink
	now  func() time.Time

	promptShown      bool
	promptOpen       bool
	ratingSubmitted  bool
	breakdownShown   bool
	paymentConfirmed bool
	cancelled        bool
	breakdown        *domain.PricingBreakdown
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(sink EventSink, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{sink: sink, now: now}
}

// PromptRating opens the rating prompt. When the booking already carries a
// rating the prompt is skipped and needBreakdown is true so the caller
// presents the payment breakdown instead.
func (c *Coordinator) PromptRating(b *domain.Booking) (needBreakdown bool) {
	if c.finished() {
		return false
	}
	if b.ClientRating != nil {
		c.ratingSubmitted = true
		return !c.breakdownShown
	}
	if c.promptShown {
		return false
	}
	c.promptShown = true
	c.promptOpen = true
	c.sink.Emit(Event{
		Type:      EventRatingPromptReady,
		BookingID: b.ID,
		Status:    b.Status,
		At:        c.now(),
	})
	return false
}

// ValidateRating checks a rating value.
func ValidateRating(value int) error {
	if value == 0 {
		return ErrRatingRequired
	}
	if value < 1 || value > 5 {
		return ErrInvalidRating
	}
	return nil
}

// CanSubmitRating reports whether a rating may be submitted now.
func (c *Coordinator) CanSubmitRating(status domain.BookingStatus) error {
	switch {
	case c.finished():
		return ErrBookingTerminal
	case c.ratingSubmitted:
		return ErrRatingAlreadySubmitted
	case !inRatingWindow(status):
		return ErrRatingNotAvailable
	}
	return nil
}

// RatingSubmitted closes the rating prompt.
func (c *Coordinator) RatingSubmitted() {
	c.ratingSubmitted = true
	c.promptOpen = false
}

// PresentBreakdown shows the payment breakdown once. It returns false if the
// breakdown was already shown or the sequence has ended.
func (c *Coordinator) PresentBreakdown(b *domain.Booking, breakdown domain.PricingBreakdown) bool {
	if c.breakdown == nil {
		bd := breakdown
		c.breakdown = &bd
	}
	if c.breakdownShown || c.finished() {
		return false
	}
	c.breakdownShown = true
	c.sink.Emit(Event{
		Type:      EventPricingBreakdownReady,
		BookingID: b.ID,
		Status:    b.Status,
		Breakdown: c.breakdown,
		At:        c.now(),
	})
	return true
}

// ConfirmPayment closes any open presentation and reports the confirmation once.
func (c *Coordinator) ConfirmPayment(b *domain.Booking) bool {
	if c.finished() {
		return false
	}
	c.promptOpen = false
	c.paymentConfirmed = true
	c.sink.Emit(Event{
		Type:      EventPaymentConfirmed,
		BookingID: b.ID,
		Status:    b.Status,
		Breakdown: c.breakdown,
		At:        c.now(),
	})
	return true
}

// Cancel discards any pending prompt or breakdown.
func (c *Coordinator) Cancel() {
	if c.finished() {
		return
	}
	c.cancelled = true
	c.promptOpen = false
}

// Breakdown returns the resolved breakdown, if any.
func (c *Coordinator) Breakdown() *domain.PricingBreakdown {
	return c.breakdown
}

// State returns a copy of the coordinator state.
func (c *Coordinator) State() CoordinatorState {
	st := CoordinatorState{
		RatingPromptOpen: c.promptOpen,
		RatingSubmitted:  c.ratingSubmitted,
		BreakdownShown:   c.breakdownShown,
		PaymentConfirmed: c.paymentConfirmed,
		Cancelled:        c.cancelled,
	}
	if c.breakdown != nil && !c.cancelled {
		bd := *c.breakdown
		st.Breakdown = &bd
	}
	return st
}

func (c *Coordinator) finished() bool {
	return c.paymentConfirmed || c.cancelled
}
