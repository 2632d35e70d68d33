package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"booking/internal/domain"
)

// DefaultPricingCacheTTL applies when no TTL is configured. Catalog prices
// change rarely.
const DefaultPricingCacheTTL = 10 * time.Minute

const pricingCachePrefix = "cache:pricing:"

// CachedPricingModel is the cached form of a catalog entry.
type CachedPricingModel struct {
	CategoryID  string  `json:"category_id"`
	ServiceID   string  `json:"service_id"`
	PricingType string  `json:"pricing_type"`
	UnitPrice   float64 `json:"unit_price"`
}

// CacheStore caches pricing catalog entries in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A non-positive ttl uses DefaultPricingCacheTTL.
func NewCacheStore(client *redis.Client, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultPricingCacheTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

func pricingKey(categoryID, serviceID string) string {
	return pricingCachePrefix + categoryID + ":" + serviceID
}

// GetPricingModel returns a cached model, or nil on a cache miss.
func (s *CacheStore) GetPricingModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error) {
	data, err := s.client.Get(ctx, pricingKey(categoryID, serviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedPricingModel
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &domain.PricingModel{
		CategoryID:  cached.CategoryID,
		ServiceID:   cached.ServiceID,
		PricingType: domain.PricingType(cached.PricingType),
		UnitPrice:   cached.UnitPrice,
	}, nil
}

// SetPricingModel caches a model.
func (s *CacheStore) SetPricingModel(ctx context.Context, model *domain.PricingModel) error {
	data, err := json.Marshal(CachedPricingModel{
		CategoryID:  model.CategoryID,
		ServiceID:   model.ServiceID,
		PricingType: string(model.PricingType),
		UnitPrice:   model.UnitPrice,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pricingKey(model.CategoryID, model.ServiceID), data, s.ttl).Err()
}

// InvalidatePricingModel removes a model from cache.
func (s *CacheStore) InvalidatePricingModel(ctx context.Context, categoryID, serviceID string) error {
	return s.client.Del(ctx, pricingKey(categoryID, serviceID)).Err()
}
