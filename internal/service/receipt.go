package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"booking/internal/domain"
)

// Receipt is the printable form of a payment breakdown.
type Receipt struct {
	ID              string
	BookingID       string
	ClientID        string
	WorkerID        string
	Address         string
	PricingType     domain.PricingType
	DurationSeconds int64
	BasePrice       float64
	ServiceCharge   float64
	TransportFee    float64
	Total           float64
	WorkerEarnings  float64
	CreatedAt       time.Time
}

// BuildReceipt builds a receipt for a booking's breakdown.
func BuildReceipt(b *domain.Booking, breakdown domain.PricingBreakdown, now time.Time) Receipt {
	return Receipt{
		ID:              uuid.New().String(),
		BookingID:       b.ID,
		ClientID:        b.ClientID,
		WorkerID:        b.WorkerID,
		Address:         b.Location.Address,
		PricingType:     breakdown.PricingType,
		DurationSeconds: breakdown.DurationSeconds,
		BasePrice:       breakdown.BasePrice,
		ServiceCharge:   breakdown.ServiceCharge,
		TransportFee:    breakdown.TransportFee,
		Total:           breakdown.Total,
		WorkerEarnings:  breakdown.WorkerEarnings,
		CreatedAt:       now,
	}
}

// FormatReceipt formats the receipt as plain text.
func FormatReceipt(r Receipt) string {
	var sb strings.Builder
	line := strings.Repeat("-", 37)

	sb.WriteString("=====================================\n")
	sb.WriteString("          SERVICE RECEIPT\n")
	sb.WriteString("=====================================\n")
	fmt.Fprintf(&sb, "Receipt ID: %s\n", r.ID)
	fmt.Fprintf(&sb, "Booking ID: %s\n", r.BookingID)
	fmt.Fprintf(&sb, "Date: %s\n", r.CreatedAt.Format("Jan 02, 2006 3:04 PM"))
	if r.Address != "" {
		fmt.Fprintf(&sb, "Address: %s\n", r.Address)
	}
	sb.WriteString("\nJOB\n" + line + "\n")
	fmt.Fprintf(&sb, "Pricing:  %s\n", r.PricingType)
	fmt.Fprintf(&sb, "Duration: %s\n", FormatElapsed(r.DurationSeconds))
	sb.WriteString("\nBREAKDOWN\n" + line + "\n")
	fmt.Fprintf(&sb, "Base Price:       %s\n", formatAmount(r.BasePrice))
	fmt.Fprintf(&sb, "Service Charge:   %s\n", formatAmount(r.ServiceCharge))
	fmt.Fprintf(&sb, "Transport Fee:    %s\n", formatAmount(r.TransportFee))
	sb.WriteString(line + "\n")
	fmt.Fprintf(&sb, "TOTAL:            %s\n", formatAmount(r.Total))
	sb.WriteString("=====================================\n")
	return sb.String()
}

func formatAmount(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
