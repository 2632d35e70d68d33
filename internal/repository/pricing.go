package repository

import (
	"context"

	"booking/internal/domain"
)

// PricingRepository reads the service pricing catalog.
type PricingRepository interface {
	// GetModel returns the pricing model for a category and sub-service.
	GetModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error)
}
