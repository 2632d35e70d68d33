package domain

import "time"

// BookingStatus represents the lifecycle status of a booking.
type BookingStatus string

const (
	BookingStatusPending          BookingStatus = "pending"
	BookingStatusAccepted         BookingStatus = "accepted"
	BookingStatusOnTheWay         BookingStatus = "on-the-way"
	BookingStatusWorkerArrived    BookingStatus = "worker-arrived"
	BookingStatusServiceStarted   BookingStatus = "service-started"
	BookingStatusAwaitingPayment  BookingStatus = "awaiting-payment"
	BookingStatusCompleted        BookingStatus = "completed"
	BookingStatusPaymentConfirmed BookingStatus = "payment-confirmed"
	BookingStatusCancelled        BookingStatus = "cancelled"
)

// statusOrder is the forward path through the lifecycle.
// Cancelled sits outside it.
var statusOrder = []BookingStatus{
	BookingStatusPending,
	BookingStatusAccepted,
	BookingStatusOnTheWay,
	BookingStatusWorkerArrived,
	BookingStatusServiceStarted,
	BookingStatusAwaitingPayment,
	BookingStatusCompleted,
	BookingStatusPaymentConfirmed,
}

// Rank returns the position of the status on the forward path.
// Unknown and empty statuses rank -1; cancelled ranks after every other status.
func (s BookingStatus) Rank() int {
	if s == BookingStatusCancelled {
		return len(statusOrder)
	}
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	return s.Rank() >= 0
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusPaymentConfirmed || s == BookingStatusCancelled
}

// ParseBookingStatus converts a raw status value into a BookingStatus.
func ParseBookingStatus(raw string) (BookingStatus, bool) {
	s := BookingStatus(raw)
	return s, s.Valid()
}

// PaymentStatus represents the payment state of a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "unpaid"
	PaymentStatusAwaiting  PaymentStatus = "awaiting"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
)

// Rating is a 1-5 score with an optional comment.
type Rating struct {
	Value       int
	Comment     string
	SubmittedAt time.Time
}

// Booking is the engine's projection of a booking record.
type Booking struct {
	ID            string
	ClientID      string
	WorkerID      string
	CategoryID    string
	ServiceID     string
	Status        BookingStatus
	ScheduledDate time.Time
	Location      ServiceLocation
	Pricing       PricingEstimate
	JobTimer      JobTimer
	FinalPricing  *PricingBreakdown
	ClientRating  *Rating
	WorkerRating  *Rating
	PaymentStatus PaymentStatus
	CancelReason  string
	CancelledAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScheduledOn reports whether the booking is scheduled on the calendar day of now,
// evaluated in now's location.
func (b *Booking) ScheduledOn(now time.Time) bool {
	if b.ScheduledDate.IsZero() {
		return false
	}
	sd := b.ScheduledDate.In(now.Location())
	y1, m1, d1 := sd.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// JobTimer holds the job timing fields of a booking.
// ActualSeconds is an authoritative duration written by the worker side.
type JobTimer struct {
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds int64
	ActualSeconds   int64
}

// HasStart reports whether the start timestamp has been recorded.
func (t JobTimer) HasStart() bool {
	return !t.StartedAt.IsZero()
}
