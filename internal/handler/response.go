package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"booking/internal/feed"
	"booking/internal/repository"
	"booking/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidBookingID),
		errors.Is(err, service.ErrInvalidDeviceID),
		errors.Is(err, service.ErrInvalidWorkerID),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrRatingRequired),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, feed.ErrInvalidSample):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrRatingAlreadySubmitted),
		errors.Is(err, service.ErrRatingNotAvailable),
		errors.Is(err, service.ErrBookingNotCompleted),
		errors.Is(err, service.ErrBookingTerminal),
		errors.Is(err, service.ErrSessionExists),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict

	// Forbidden/Business rule errors
	case errors.Is(err, service.ErrStatusRequiresAction):
		return http.StatusForbidden

	// Gone
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusGone

	// Service unavailable
	case errors.Is(err, service.ErrSessionLimit),
		errors.Is(err, service.ErrPricingLookupFailed):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
