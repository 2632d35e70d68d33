package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Refresh and release only touch a lock this store still owns.
var (
	refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
	owner  string
}

// NewLockStore creates a new LockStore. Locks it takes are tagged with a
// per-process owner token.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, owner: uuid.New().String()}
}

func sessionLockKey(bookingID, deviceID string) string {
	return fmt.Sprintf("lock:session:%s:%s", bookingID, deviceID)
}

// AcquireSessionLock claims the session for a booking and device.
// Returns false if another instance already holds it.
func (s *LockStore) AcquireSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, sessionLockKey(bookingID, deviceID), s.owner, ttl).Result()
}

// RefreshSessionLock extends a held lock. Returns false once the lock has
// expired or been taken by another instance.
func (s *LockStore) RefreshSessionLock(ctx context.Context, bookingID, deviceID string, ttl time.Duration) (bool, error) {
	n, err := refreshLockScript.Run(ctx, s.client, []string{sessionLockKey(bookingID, deviceID)}, s.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSessionLock releases the session lock if this store still owns it.
func (s *LockStore) ReleaseSessionLock(ctx context.Context, bookingID, deviceID string) error {
	return releaseLockScript.Run(ctx, s.client, []string{sessionLockKey(bookingID, deviceID)}, s.owner).Err()
}
