package domain

import "math"

// PricingType is the billing rule attached to a service.
type PricingType string

const (
	PricingTypeFixed  PricingType = "fixed"
	PricingTypeHourly PricingType = "hourly"
	PricingTypeDaily  PricingType = "daily"
)

// PricingModel is read-only catalog data for a category/sub-service.
type PricingModel struct {
	CategoryID  string
	ServiceID   string
	PricingType PricingType
	UnitPrice   float64
}

// PricingEstimate is the quote stored on the booking at request time.
// A non-zero TransportFee overrides the configured default.
type PricingEstimate struct {
	BasePrice     float64
	ServiceCharge float64
	TransportFee  float64
	Total         float64
}

// PricingBreakdown is the final cost of a job.
type PricingBreakdown struct {
	BasePrice       float64
	ServiceCharge   float64
	TransportFee    float64
	Total           float64
	WorkerEarnings  float64
	PricingType     PricingType
	DurationSeconds int64
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Rounded returns the breakdown with its amounts rounded to cents. Total and
// worker earnings are re-derived from the rounded parts so they still add up.
func (b PricingBreakdown) Rounded() PricingBreakdown {
	r := b
	r.BasePrice = RoundCents(b.BasePrice)
	r.ServiceCharge = RoundCents(b.ServiceCharge)
	r.TransportFee = RoundCents(b.TransportFee)
	r.Total = RoundCents(r.BasePrice + r.ServiceCharge + r.TransportFee)
	r.WorkerEarnings = RoundCents(r.BasePrice + r.TransportFee)
	return r
}
