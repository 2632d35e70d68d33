package service

import "errors"

var (
	// ErrInvalidTransition is returned when an incoming status is not reachable from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingStartTime is returned when the job timer is asked to start before the start time is known.
	ErrMissingStartTime = errors.New("job start time not available")

	// ErrPricingLookupFailed is returned when the pricing model for a booking cannot be resolved.
	ErrPricingLookupFailed = errors.New("pricing model lookup failed")

	// ErrUnknownPricingType is returned for a pricing type the calculator does not support.
	ErrUnknownPricingType = errors.New("unknown pricing type")

	// ErrInvalidUnitPrice is returned when a pricing model carries a negative unit price.
	ErrInvalidUnitPrice = errors.New("invalid unit price")

	// ErrRatingRequired is returned when a rating is submitted with value 0.
	ErrRatingRequired = errors.New("rating is required")

	// ErrInvalidRating is returned when a rating is outside 1-5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrRatingAlreadySubmitted is returned when the booking already has a client rating.
	ErrRatingAlreadySubmitted = errors.New("rating already submitted")

	// ErrRatingNotAvailable is returned when a rating is submitted before the job has ended.
	ErrRatingNotAvailable = errors.New("rating not available for current status")

	// ErrLocationUnavailable is returned when no usable worker location is known.
	ErrLocationUnavailable = errors.New("worker location unavailable")

	// ErrGeocodeFailed is returned when reverse geocoding fails.
	ErrGeocodeFailed = errors.New("reverse geocode failed")

	// ErrInvalidBookingID is returned when booking ID is empty.
	ErrInvalidBookingID = errors.New("invalid booking id")

	// ErrInvalidDeviceID is returned when device ID is empty.
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrInvalidWorkerID is returned when worker ID is empty.
	ErrInvalidWorkerID = errors.New("invalid worker id")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("invalid booking status")

	// ErrBookingNotCompleted is returned when payment is confirmed on a booking that is not completed.
	ErrBookingNotCompleted = errors.New("booking not completed")

	// ErrBookingTerminal is returned when acting on a cancelled or payment-confirmed booking.
	ErrBookingTerminal = errors.New("booking already finished")

	// ErrStatusRequiresAction is returned when a status must be set through its dedicated action.
	ErrStatusRequiresAction = errors.New("status must be set through its dedicated action")

	// ErrSessionClosed is returned when a command is sent to a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when another instance owns the session for a booking and device.
	ErrSessionExists = errors.New("session already open for this booking and device")

	// ErrSessionLimit is returned when the maximum number of sessions is open.
	ErrSessionLimit = errors.New("too many open sessions")
)
