package redis

import (
	"context"
	"time"

	"booking/internal/domain"
)

// LocationStoreInterface defines worker location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, sample domain.WorkerLocationSample) error
	LatestLocation(ctx context.Context, workerID string) (*domain.WorkerLocationSample, error)
	RemoveLocation(ctx context.Context, workerID string) error
}

// LockStoreInterface defines session locking.
type LockStoreInterface interface {
	AcquireSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error)
	RefreshSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error)
	ReleaseSessionLock(ctx context.Context, bookingID, deviceID string) error
}

// PricingCacheInterface defines pricing catalog caching.
type PricingCacheInterface interface {
	GetPricingModel(ctx context.Context, categoryID, serviceID string) (*domain.PricingModel, error)
	SetPricingModel(ctx context.Context, model *domain.PricingModel) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ PricingCacheInterface  = (*CacheStore)(nil)
)
