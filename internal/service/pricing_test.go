package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"booking/internal/domain"
	"booking/internal/logging"
	"booking/internal/repository"
)

func assertBreakdownInvariants(t *testing.T, b domain.PricingBreakdown) {
	t.Helper()
	if b.Total != b.BasePrice+b.ServiceCharge+b.TransportFee {
		t.Errorf("total %v != base %v + charge %v + fee %v", b.Total, b.BasePrice, b.ServiceCharge, b.TransportFee)
	}
	if b.WorkerEarnings != b.BasePrice+b.TransportFee {
		t.Errorf("earnings %v != base %v + fee %v", b.WorkerEarnings, b.BasePrice, b.TransportFee)
	}
}

func TestPricingCalculator_BasePrice(t *testing.T) {
	t.Parallel()

	calc := DefaultPricingCalculator()

	tests := []struct {
		name     string
		typ      domain.PricingType
		unit     float64
		duration int64
		wantBase float64
	}{
		{"hourly 50 minutes bills one hour", domain.PricingTypeHourly, 200, 3000, 200},
		{"hourly 65 minutes bills 1h15", domain.PricingTypeHourly, 200, 3900, 250},
		{"hourly exact quarter", domain.PricingTypeHourly, 200, 4500, 250},
		{"hourly one second over quarter", domain.PricingTypeHourly, 200, 4501, 300},
		{"hourly zero duration minimum", domain.PricingTypeHourly, 200, 0, 200},
		{"daily 5 hours bills one day", domain.PricingTypeDaily, 800, 18000, 800},
		{"daily 3 hours bills half day", domain.PricingTypeDaily, 800, 10800, 400},
		{"daily 9 hours bills 1.5 days", domain.PricingTypeDaily, 800, 32400, 1200},
		{"daily zero duration minimum", domain.PricingTypeDaily, 800, 0, 400},
		{"fixed ignores duration", domain.PricingTypeFixed, 350, 99999, 350},
		{"negative duration treated as zero", domain.PricingTypeHourly, 100, -50, 100},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := calc.Compute(tt.typ, tt.unit, tt.duration)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.BasePrice != tt.wantBase {
				t.Errorf("base price = %v, want %v", b.BasePrice, tt.wantBase)
			}
			if b.PricingType != tt.typ {
				t.Errorf("pricing type = %s, want %s", b.PricingType, tt.typ)
			}
			assertBreakdownInvariants(t, b)
		})
	}
}

func TestPricingCalculator_Fees(t *testing.T) {
	t.Parallel()

	calc := DefaultPricingCalculator()

	b, err := calc.Compute(domain.PricingTypeHourly, 200, 3900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ServiceCharge != 25 {
		t.Errorf("service charge = %v, want 25", b.ServiceCharge)
	}
	if b.TransportFee != 50 {
		t.Errorf("transport fee = %v, want default 50", b.TransportFee)
	}
	if b.Total != 325 || b.WorkerEarnings != 300 {
		t.Errorf("total=%v earnings=%v, want 325 and 300", b.Total, b.WorkerEarnings)
	}

	own, err := calc.ComputeWithTransportFee(domain.PricingTypeFixed, 333.33, 0, 12.346)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if own.TransportFee != 12.35 {
		t.Errorf("booking transport fee should be used, got %v", own.TransportFee)
	}
	if own.ServiceCharge != 33.33 {
		t.Errorf("service charge should round to cents, got %v", own.ServiceCharge)
	}
	assertBreakdownInvariants(t, own)
}

func TestPricingCalculator_Errors(t *testing.T) {
	t.Parallel()

	calc := DefaultPricingCalculator()

	if _, err := calc.Compute("weekly", 100, 10); !errors.Is(err, ErrUnknownPricingType) {
		t.Errorf("expected ErrUnknownPricingType, got %v", err)
	}
	if _, err := calc.Compute(domain.PricingTypeFixed, -1, 10); !errors.Is(err, ErrInvalidUnitPrice) {
		t.Errorf("expected ErrInvalidUnitPrice, got %v", err)
	}
}

func TestPricingCalculator_InvariantsAcrossDurations(t *testing.T) {
	t.Parallel()

	calc := DefaultPricingCalculator()
	for _, typ := range []domain.PricingType{domain.PricingTypeFixed, domain.PricingTypeHourly, domain.PricingTypeDaily} {
		for secs := int64(0); secs < 3*86400; secs += 1777 {
			b, err := calc.Compute(typ, 123.45, secs)
			if err != nil {
				t.Fatalf("%s/%d: %v", typ, secs, err)
			}
			assertBreakdownInvariants(t, b)
		}
	}
}

type stubCatalog struct {
	mu     sync.Mutex
	models map[string]*domain.PricingModel
	calls  int
	err    error
}

func (s *stubCatalog) GetModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	m, ok := s.models[categoryID+"/"+serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *m
	return &copy, nil
}

type stubPricingCache struct {
	mu     sync.Mutex
	models map[string]*domain.PricingModel
}

func (c *stubPricingCache) GetPricingModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models[categoryID+"/"+serviceID], nil
}

func (c *stubPricingCache) SetPricingModel(ctx context.Context, m *domain.PricingModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.CategoryID+"/"+m.ServiceID] = m
	return nil
}

func TestPricingService_UsesCatalogThenCache(t *testing.T) {
	t.Parallel()

	catalog := &stubCatalog{models: map[string]*domain.PricingModel{
		"plumbing/leak": {CategoryID: "plumbing", ServiceID: "leak", PricingType: domain.PricingTypeHourly, UnitPrice: 200},
	}}
	cache := &stubPricingCache{models: map[string]*domain.PricingModel{}}
	svc := NewPricingService(catalog, cache, DefaultPricingCalculator(), logging.Discard())

	b := &domain.Booking{ID: "b-1", CategoryID: "plumbing", ServiceID: "leak"}
	for i := 0; i < 3; i++ {
		got, fellBack := svc.ComputeForBooking(context.Background(), b, 3900)
		if fellBack {
			t.Fatal("did not expect fallback")
		}
		if got.BasePrice != 250 {
			t.Errorf("base price = %v, want 250", got.BasePrice)
		}
	}
	if catalog.calls != 1 {
		t.Errorf("expected one catalog read, got %d", catalog.calls)
	}
}

func TestPricingService_FallsBackToEstimate(t *testing.T) {
	t.Parallel()

	catalog := &stubCatalog{models: map[string]*domain.PricingModel{
		"odd/job": {CategoryID: "odd", ServiceID: "job", PricingType: "weekly", UnitPrice: 10},
	}}
	svc := NewPricingService(catalog, nil, DefaultPricingCalculator(), logging.Discard())

	b := &domain.Booking{
		ID:         "b-1",
		CategoryID: "unknown",
		ServiceID:  "service",
		Pricing:    domain.PricingEstimate{BasePrice: 480, TransportFee: 30},
	}
	got, fellBack := svc.ComputeForBooking(context.Background(), b, 7200)
	if !fellBack {
		t.Fatal("expected fallback for unknown model")
	}
	if got.BasePrice != 480 || got.TransportFee != 30 || got.PricingType != domain.PricingTypeFixed {
		t.Errorf("unexpected fallback breakdown %+v", got)
	}
	if got.DurationSeconds != 7200 {
		t.Errorf("fallback should keep the duration, got %d", got.DurationSeconds)
	}
	assertBreakdownInvariants(t, got)

	b.CategoryID, b.ServiceID = "odd", "job"
	if _, fellBack := svc.ComputeForBooking(context.Background(), b, 7200); !fellBack {
		t.Error("expected fallback for unsupported pricing type")
	}
}
