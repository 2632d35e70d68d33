package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/domain"
)

func TestToBreakdown_RoundsAmountsToCents(t *testing.T) {
	t.Parallel()

	b := &domain.PricingBreakdown{
		BasePrice:     0.1,
		ServiceCharge: 0.2,
		Total:         0.1 + 0.2,
		PricingType:   domain.PricingTypeFixed,
	}
	require.NotEqual(t, 0.3, b.Total)

	out, err := json.Marshal(toBreakdown(b))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"base_price": 0.1,
		"service_charge": 0.2,
		"transport_fee": 0,
		"total": 0.3,
		"worker_earnings": 0.1,
		"pricing_type": "fixed",
		"duration_seconds": 0
	}`, string(out))
}

func TestToBreakdown_RoundedPartsStillAddUp(t *testing.T) {
	t.Parallel()

	base := 1000.0 / 3
	charge := base * 0.1
	b := &domain.PricingBreakdown{
		BasePrice:      base,
		ServiceCharge:  charge,
		TransportFee:   50,
		Total:          base + charge + 50,
		WorkerEarnings: base + 50,
		PricingType:    domain.PricingTypeHourly,
	}

	r := toBreakdown(b)
	assert.Equal(t, 333.33, r.BasePrice)
	assert.Equal(t, 33.33, r.ServiceCharge)
	assert.Equal(t, 416.66, r.Total)
	assert.Equal(t, 383.33, r.WorkerEarnings)
}

func TestToBreakdown_Nil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, toBreakdown(nil))
}
