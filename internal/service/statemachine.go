package service

import (
	"fmt"
	"log/slog"

	"booking/internal/domain"
	"booking/internal/observability"
)

// Intent is a side effect the session should perform after a transition.
type Intent string

const (
	IntentStopTimer      Intent = "stop-timer"
	IntentStopTracking   Intent = "stop-tracking"
	IntentStartTracking  Intent = "start-tracking"
	IntentStartTimer     Intent = "start-timer"
	IntentPromptRating   Intent = "prompt-rating"
	IntentConfirmPayment Intent = "confirm-payment"
	IntentCancel         Intent = "cancel"
)

// Transition is the result of applying an incoming status.
type Transition struct {
	From    domain.BookingStatus
	To      domain.BookingStatus
	Intents []Intent
}

// Has reports whether the transition carries intent i.
func (t Transition) Has(i Intent) bool {
	for _, in := range t.Intents {
		if in == i {
			return true
		}
	}
	return false
}

// Changed reports whether the status moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// InTrackingWindow reports whether a worker is tracked while the booking is in s.
// The worker is not tracked while on site before the job starts.
func InTrackingWindow(s domain.BookingStatus) bool {
	switch s {
	case domain.BookingStatusAccepted,
		domain.BookingStatusOnTheWay,
		domain.BookingStatusServiceStarted,
		domain.BookingStatusAwaitingPayment:
		return true
	}
	return false
}

// InTimerWindow reports whether the job timer runs while the booking is in s.
func InTimerWindow(s domain.BookingStatus) bool {
	return s == domain.BookingStatusServiceStarted
}

func inRatingWindow(s domain.BookingStatus) bool {
	return s == domain.BookingStatusAwaitingPayment || s == domain.BookingStatusCompleted
}

// CanTransition reports whether next is reachable from prev.
// Forward moves may skip statuses; cancelled is reachable from any non-terminal status.
// An empty prev means nothing has been observed yet.
func CanTransition(prev, next domain.BookingStatus) bool {
	if !next.Valid() {
		return false
	}
	if prev.IsTerminal() {
		return false
	}
	if next == domain.BookingStatusCancelled {
		return true
	}
	return next.Rank() > prev.Rank()
}

// ApplyTransition derives the side-effect intents for moving from prev to next.
// Re-applying the current status yields no intents and no error.
func ApplyTransition(prev, next domain.BookingStatus) ([]Intent, error) {
	if prev == next && next.Valid() {
		return nil, nil
	}
	if !CanTransition(prev, next) {
		return nil, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, prev, next)
	}

	var intents []Intent

	wasTimed, isTimed := InTimerWindow(prev), InTimerWindow(next)
	wasTracked, isTracked := InTrackingWindow(prev), InTrackingWindow(next)

	if wasTimed && !isTimed {
		intents = append(intents, IntentStopTimer)
	}
	if wasTracked && !isTracked {
		intents = append(intents, IntentStopTracking)
	}
	if !wasTracked && isTracked {
		intents = append(intents, IntentStartTracking)
	}
	if !wasTimed && isTimed {
		intents = append(intents, IntentStartTimer)
	}
	if inRatingWindow(next) && prev.Rank() < domain.BookingStatusAwaitingPayment.Rank() {
		intents = append(intents, IntentPromptRating)
	}
	if next == domain.BookingStatusPaymentConfirmed {
		intents = append(intents, IntentConfirmPayment)
	}
	if next == domain.BookingStatusCancelled {
		intents = append(intents, IntentCancel)
	}

	return intents, nil
}

// StateMachine tracks the last observed status of one booking.
// It is not safe for concurrent use.
type StateMachine struct {
	current domain.BookingStatus
	log     *slog.Logger
}

// NewStateMachine creates a StateMachine with no observed status.
func NewStateMachine(log *slog.Logger) *StateMachine {
	return &StateMachine{log: log}
}

// Current returns the last accepted status.
func (m *StateMachine) Current() domain.BookingStatus {
	return m.current
}

// Apply compares incoming against the current status. A rejected status is logged
// and leaves the machine unchanged.
func (m *StateMachine) Apply(incoming domain.BookingStatus) (Transition, error) {
	from := m.current
	intents, err := ApplyTransition(from, incoming)
	if err != nil {
		observability.InvalidTransitionsTotal.Inc()
		m.log.Warn("rejected status transition",
			"from", from,
			"to", incoming,
			"error", err,
		)
		return Transition{From: from, To: from}, err
	}

	if from == incoming {
		observability.DuplicateSnapshotsTotal.Inc()
		return Transition{From: from, To: incoming}, nil
	}

	m.current = incoming
	observability.TransitionsTotal.WithLabelValues(string(from), string(incoming)).Inc()
	m.log.Debug("status transition applied",
		"from", from,
		"to", incoming,
		"intents", intents,
	)
	return Transition{From: from, To: incoming, Intents: intents}, nil
}
