package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"booking/internal/config"
	"booking/internal/domain"
	"booking/internal/observability"
	"booking/internal/repository"
)

const (
	quarterHourSeconds = 15 * 60
	minHourlyQuarters  = 4
)

// PricingCalculator turns a pricing model and a job duration into a breakdown.
type PricingCalculator struct {
	serviceChargeRate   float64
	defaultTransportFee float64
	hoursPerDay         float64
}

// NewPricingCalculator creates a calculator from configuration.
func NewPricingCalculator(cfg config.PricingConfig) *PricingCalculator {
	hours := cfg.HoursPerDay
	if hours <= 0 {
		hours = 8
	}
	return &PricingCalculator{
		serviceChargeRate:   cfg.ServiceChargeRate,
		defaultTransportFee: cfg.DefaultTransportFee,
		hoursPerDay:         hours,
	}
}

// DefaultPricingCalculator returns a calculator with a 10% service charge,
// a 50 transport fee and an 8-hour working day.
func DefaultPricingCalculator() *PricingCalculator {
	return NewPricingCalculator(config.PricingConfig{
		ServiceChargeRate:   0.10,
		DefaultTransportFee: 50,
		HoursPerDay:         8,
	})
}

// Compute prices a job with the default transport fee.
func (c *PricingCalculator) Compute(pricingType domain.PricingType, unitPrice float64, durationSeconds int64) (domain.PricingBreakdown, error) {
	return c.ComputeWithTransportFee(pricingType, unitPrice, durationSeconds, 0)
}

// ComputeWithTransportFee prices a job. A positive transportFee replaces the default.
//
// Hourly jobs bill in started quarter-hours with a one hour minimum. Daily jobs
// bill in started half-days with a half-day minimum.
func (c *PricingCalculator) ComputeWithTransportFee(pricingType domain.PricingType, unitPrice float64, durationSeconds int64, transportFee float64) (domain.PricingBreakdown, error) {
	if unitPrice < 0 || math.IsNaN(unitPrice) || math.IsInf(unitPrice, 0) {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: %v", ErrInvalidUnitPrice, unitPrice)
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	var base float64
	switch pricingType {
	case domain.PricingTypeFixed:
		base = unitPrice
	case domain.PricingTypeHourly:
		quarters := ceilDiv(durationSeconds, quarterHourSeconds)
		if quarters < minHourlyQuarters {
			quarters = minHourlyQuarters
		}
		base = float64(quarters) * unitPrice / 4
	case domain.PricingTypeDaily:
		halfDay := int64(c.hoursPerDay * 3600 / 2)
		halves := ceilDiv(durationSeconds, halfDay)
		if halves < 1 {
			halves = 1
		}
		base = float64(halves) * unitPrice / 2
	default:
		return domain.PricingBreakdown{}, fmt.Errorf("%w: %q", ErrUnknownPricingType, pricingType)
	}

	if transportFee <= 0 {
		transportFee = c.defaultTransportFee
	}

	base = roundCents(base)
	charge := roundCents(base * c.serviceChargeRate)
	fee := roundCents(transportFee)

	return domain.PricingBreakdown{
		BasePrice:       base,
		ServiceCharge:   charge,
		TransportFee:    fee,
		Total:           base + charge + fee,
		WorkerEarnings:  base + fee,
		PricingType:     pricingType,
		DurationSeconds: durationSeconds,
	}, nil
}

// FromEstimate prices a job as fixed at the booking's estimated base price.
func (c *PricingCalculator) FromEstimate(b *domain.Booking, durationSeconds int64) domain.PricingBreakdown {
	base := b.Pricing.BasePrice
	if base < 0 || math.IsNaN(base) {
		base = 0
	}
	// Fixed pricing with a valid unit price cannot fail.
	breakdown, _ := c.ComputeWithTransportFee(domain.PricingTypeFixed, base, durationSeconds, b.Pricing.TransportFee)
	return breakdown
}

func ceilDiv(n, d int64) int64 {
	if d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// PricingCache caches catalog entries.
type PricingCache interface {
	GetPricingModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error)
	SetPricingModel(ctx context.Context, model *domain.PricingModel) error
}

// PricingService resolves the pricing model for a booking and computes its final price.
type PricingService struct {
	catalog repository.PricingRepository
	cache   PricingCache
	calc    *PricingCalculator
	log     *slog.Logger
}

// NewPricingService creates a new PricingService. cache may be nil.
func NewPricingService(catalog repository.PricingRepository, cache PricingCache, calc *PricingCalculator, log *slog.Logger) *PricingService {
	return &PricingService{
		catalog: catalog,
		cache:   cache,
		calc:    calc,
		log:     log,
	}
}

// Calculator returns the underlying calculator.
func (s *PricingService) Calculator() *PricingCalculator {
	return s.calc
}

// LookupModel returns the pricing model, reading through the cache.
func (s *PricingService) LookupModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	if s.cache != nil {
		cached, err := s.cache.GetPricingModel(ctx, categoryID, serviceID)
		if err != nil {
			s.log.Warn("pricing cache read failed", "category_id", categoryID, "service_id", serviceID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	model, err := s.catalog.GetModel(ctx, categoryID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrPricingLookupFailed, categoryID, serviceID, err)
	}

	if s.cache != nil {
		if err := s.cache.SetPricingModel(ctx, model); err != nil {
			s.log.Warn("pricing cache write failed", "category_id", categoryID, "service_id", serviceID, "error", err)
		}
	}
	return model, nil
}

// ComputeForBooking prices a booking for the given duration. It never fails:
// when the model cannot be resolved or priced, the booking's estimate is used
// and fellBack is true.
func (s *PricingService) ComputeForBooking(ctx context.Context, b *domain.Booking, durationSeconds int64) (breakdown domain.PricingBreakdown, fellBack bool) {
	model, err := s.LookupModel(ctx, b.CategoryID, b.ServiceID)
	if err == nil {
		breakdown, err = s.calc.ComputeWithTransportFee(model.PricingType, model.UnitPrice, durationSeconds, b.Pricing.TransportFee)
	}
	if err != nil {
		observability.PricingFallbacksTotal.Inc()
		s.log.Warn("pricing fell back to booking estimate",
			"booking_id", b.ID,
			"category_id", b.CategoryID,
			"service_id", b.ServiceID,
			"error", err,
		)
		return s.calc.FromEstimate(b, durationSeconds), true
	}

	observability.PricingComputationsTotal.WithLabelValues(string(breakdown.PricingType)).Inc()
	return breakdown, false
}
