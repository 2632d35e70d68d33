package postgres

import (
	"context"
	"database/sql"
	"errors"

	"booking/internal/domain"
	"booking/internal/repository"
)

// PricingRepository is a PostgreSQL implementation of repository.PricingRepository.
type PricingRepository struct {
	q Querier
}

// NewPricingRepository creates a new PostgreSQL pricing repository.
func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{q: db}
}

// GetModel returns the pricing model of a sub-service within a category.
func (r *PricingRepository) GetModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	query := `
		SELECT category_id, service_id, pricing_type, unit_price
		FROM service_pricing WHERE category_id = $1 AND service_id = $2
	`

	var m domain.PricingModel
	err := r.q.QueryRowContext(ctx, query, categoryID, serviceID).Scan(
		&m.CategoryID,
		&m.ServiceID,
		&m.PricingType,
		&m.UnitPrice,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

var _ repository.PricingRepository = (*PricingRepository)(nil)
