package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"booking/internal/service"
)

// BookingHandler handles worker and payment actions on bookings.
type BookingHandler struct {
	bookingService *service.BookingService
	paymentService *service.PaymentService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService *service.BookingService, paymentService *service.PaymentService) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		paymentService: paymentService,
	}
}

// UpdateStatusRequest is the HTTP request body for a worker status action.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// GetBooking handles GET /v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	b, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// UpdateStatus handles POST /v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	b, err := h.bookingService.UpdateStatus(c.Request.Context(), service.UpdateStatusRequest{
		BookingID: c.Param("id"),
		Status:    req.Status,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// ConfirmPayment handles POST /v1/bookings/:id/payment/confirm
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	b, err := h.paymentService.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// Breakdown handles GET /v1/bookings/:id/breakdown?duration_seconds=
func (h *BookingHandler) Breakdown(c *gin.Context) {
	var duration int64
	if raw := c.Query("duration_seconds"); raw != "" {
		d, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "duration_seconds must be a non-negative integer"})
			return
		}
		duration = d
	}

	breakdown, fellBack, err := h.bookingService.PreviewBreakdown(c.Request.Context(), c.Param("id"), duration)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := toBreakdown(&breakdown)
	resp.Estimated = fellBack
	respondJSON(c, http.StatusOK, resp)
}
