package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired indicates the critical section is held by another writer.
var ErrLockNotAcquired = errors.New("shared: lock not acquired")

// UserAssignmentLockKey builds the redis key serializing role assignments for a user.
func UserAssignmentLockKey(domain, userID string) string {
	return fmt.Sprintf("authz:assign:user:%s:%s:lock", domain, userID)
}

// RoleAssignmentLockKey builds the redis key serializing mutations on a role.
func RoleAssignmentLockKey(domain, roleID string) string {
	return fmt.Sprintf("authz:assign:role:%s:%s:lock", domain, roleID)
}

// releaseScript deletes the lock only when still owned by the releasing holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Mutex provides short-TTL distributed locks over redis. It guards the
// dual-store assignment critical section, which spans a database transaction
// and a policy-engine mutation and therefore cannot rely on row locks alone.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewMutex constructs a Mutex. A zero ttl defaults to 5s, a zero wait to 2s.
func NewMutex(client *redis.Client, ttl, wait time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Mutex{client: client, ttl: ttl, wait: wait}
}

// Acquire takes the lock for key, retrying until the wait budget is spent.
// The returned release function is safe to call once the holder is done.
func (m *Mutex) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(m.wait)
	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, m.client, []string{key}, token).Err()
	}
	return release, nil
}
