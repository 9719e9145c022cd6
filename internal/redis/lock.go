package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lease only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockStore hands out named leases in Redis. A lease expires on its own, so
// a crashed holder never blocks the others for longer than the TTL.
type LockStore struct {
	client *redis.Client
	owner  string
}

// NewLockStore creates a new LockStore with a unique owner token.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, owner: uuid.NewString()}
}

// TryAcquire attempts to take the named lease.
// Returns true if the lease was acquired, false if another owner holds it.
func (s *LockStore) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(name), s.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release gives the named lease back if this store still owns it.
func (s *LockStore) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, s.owner).Err()
}

func leaseKey(name string) string {
	return fmt.Sprintf("lock:dispatch:%s", name)
}
