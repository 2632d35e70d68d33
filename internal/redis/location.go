package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"booking/internal/domain"
)

const (
	workerGeoKey       = "workers:locations"
	workerLocationHash = "worker:location:"
)

// LocationStore keeps the latest position of each worker in Redis.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a sample in the geo index and in a per-worker hash
// holding the raw coordinates and sample time.
func (s *LocationStore) UpdateLocation(ctx context.Context, sample domain.WorkerLocationSample) error {
	pipe := s.client.TxPipeline()
	pipe.GeoAdd(ctx, workerGeoKey, &redis.GeoLocation{
		Name:      sample.WorkerID,
		Longitude: sample.Lng,
		Latitude:  sample.Lat,
	})
	pipe.HSet(ctx, workerLocationHash+sample.WorkerID, map[string]interface{}{
		"lat": strconv.FormatFloat(sample.Lat, 'f', -1, 64),
		"lng": strconv.FormatFloat(sample.Lng, 'f', -1, 64),
		"ts":  sample.Timestamp.UnixMilli(),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// LatestLocation returns the last stored sample, or nil if the worker has none.
func (s *LocationStore) LatestLocation(ctx context.Context, workerID string) (*domain.WorkerLocationSample, error) {
	fields, err := s.client.HGetAll(ctx, workerLocationHash+workerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseLocation(workerID, fields)
}

func parseLocation(workerID string, fields map[string]string) (*domain.WorkerLocationSample, error) {
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, err
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, err
	}
	sample := &domain.WorkerLocationSample{WorkerID: workerID, Lat: lat, Lng: lng}
	if ms, err := strconv.ParseInt(fields["ts"], 10, 64); err == nil && ms > 0 {
		sample.Timestamp = time.UnixMilli(ms).UTC()
	}
	return sample, nil
}

// RemoveLocation forgets a worker's position.
func (s *LocationStore) RemoveLocation(ctx context.Context, workerID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, workerGeoKey, workerID)
	pipe.Del(ctx, workerLocationHash+workerID)
	_, err := pipe.Exec(ctx)
	return err
}
