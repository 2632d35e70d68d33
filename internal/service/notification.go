package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"booking/internal/domain"
	"booking/internal/observability"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationStatusChanged    NotificationType = "BOOKING_STATUS_CHANGED"
	NotificationBreakdownReady   NotificationType = "PAYMENT_BREAKDOWN_READY"
	NotificationPaymentConfirmed NotificationType = "PAYMENT_CONFIRMED"
	NotificationBookingCancelled NotificationType = "BOOKING_CANCELLED"
)

// Notification is a "show message" intent. Presentation is up to the receiver.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string
	BookingID   string
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// NotificationPublisher delivers notifications to clients.
type NotificationPublisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NotificationService builds and delivers booking notifications.
type NotificationService struct {
	publisher NotificationPublisher
	log       *slog.Logger
}

// NewNotificationService creates a new NotificationService. With a nil
// publisher notifications are only logged.
func NewNotificationService(publisher NotificationPublisher, log *slog.Logger) *NotificationService {
	return &NotificationService{publisher: publisher, log: log}
}

// StatusMessage returns the title and text shown to the client for a status.
func StatusMessage(status domain.BookingStatus) (title, message string) {
	switch status {
	case domain.BookingStatusPending:
		return "Booking Requested", "We are waiting for the worker to accept your booking."
	case domain.BookingStatusAccepted:
		return "Booking Accepted", "Your worker accepted the booking."
	case domain.BookingStatusOnTheWay:
		return "Worker On The Way", "Your worker is on the way."
	case domain.BookingStatusWorkerArrived:
		return "Worker Arrived", "Your worker has arrived."
	case domain.BookingStatusServiceStarted:
		return "Service Started", "Your worker has started the job."
	case domain.BookingStatusAwaitingPayment:
		return "Job Finished", "The job is done. Please rate your worker."
	case domain.BookingStatusCompleted:
		return "Booking Completed", "Please complete your payment."
	case domain.BookingStatusPaymentConfirmed:
		return "Payment Confirmed", "Your worker confirmed your payment. Thank you!"
	case domain.BookingStatusCancelled:
		return "Booking Cancelled", "This booking has been cancelled."
	default:
		return "Booking Updated", fmt.Sprintf("Booking status: %s", status)
	}
}

// NotifyStatusChanged tells the client about a new status.
func (s *NotificationService) NotifyStatusChanged(ctx context.Context, b *domain.Booking) error {
	typ := NotificationStatusChanged
	switch b.Status {
	case domain.BookingStatusCancelled:
		typ = NotificationBookingCancelled
	case domain.BookingStatusPaymentConfirmed:
		typ = NotificationPaymentConfirmed
	}

	title, message := StatusMessage(b.Status)
	data := map[string]any{
		"booking_id": b.ID,
		"status":     string(b.Status),
	}
	if b.Status == domain.BookingStatusCancelled && b.CancelReason != "" {
		data["reason"] = b.CancelReason
	}

	return s.send(ctx, Notification{
		Type:        typ,
		RecipientID: b.ClientID,
		BookingID:   b.ID,
		Title:       title,
		Message:     message,
		Data:        data,
	})
}

// NotifyBreakdownReady tells the client the payment breakdown is available.
func (s *NotificationService) NotifyBreakdownReady(ctx context.Context, b *domain.Booking, breakdown domain.PricingBreakdown) error {
	breakdown = breakdown.Rounded()
	receipt := BuildReceipt(b, breakdown, time.Now())
	return s.send(ctx, Notification{
		Type:        NotificationBreakdownReady,
		RecipientID: b.ClientID,
		BookingID:   b.ID,
		Title:       "Payment Breakdown",
		Message:     fmt.Sprintf("Total due: %s", formatAmount(breakdown.Total)),
		Data: map[string]any{
			"booking_id":      b.ID,
			"total":           breakdown.Total,
			"worker_earnings": breakdown.WorkerEarnings,
			"receipt":         FormatReceipt(receipt),
		},
	})
}

// send delivers a notification, logging delivery failures.
func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	s.log.Info("notification",
		"type", n.Type,
		"recipient_id", n.RecipientID,
		"booking_id", n.BookingID,
		"title", n.Title,
	)

	if s.publisher == nil {
		observability.NotificationsTotal.WithLabelValues("logged").Inc()
		return nil
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		observability.NotificationsTotal.WithLabelValues("failed").Inc()
		s.log.Warn("notification delivery failed", "type", n.Type, "booking_id", n.BookingID, "error", err)
		return err
	}
	observability.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}
