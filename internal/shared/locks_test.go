package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMutex(t *testing.T, ttl, wait time.Duration) (*Mutex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewMutex(client, ttl, wait), mr
}

func TestMutexAcquireAndRelease(t *testing.T) {
	m, mr := testMutex(t, time.Second, 100*time.Millisecond)
	ctx := context.Background()
	key := UserAssignmentLockKey("acme", "alice")

	release, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	release()
	assert.False(t, mr.Exists(key))

	// Reacquirable after release.
	release, err = m.Acquire(ctx, key)
	require.NoError(t, err)
	release()
}

func TestMutexContendedKeyTimesOut(t *testing.T) {
	m, _ := testMutex(t, time.Second, 120*time.Millisecond)
	ctx := context.Background()
	key := RoleAssignmentLockKey("acme", "editor")

	release, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestMutexDistinctKeysDoNotContend(t *testing.T) {
	m, _ := testMutex(t, time.Second, 100*time.Millisecond)
	ctx := context.Background()

	r1, err := m.Acquire(ctx, UserAssignmentLockKey("acme", "alice"))
	require.NoError(t, err)
	defer r1()

	r2, err := m.Acquire(ctx, UserAssignmentLockKey("acme", "bob"))
	require.NoError(t, err)
	defer r2()

	r3, err := m.Acquire(ctx, UserAssignmentLockKey("globex", "alice"))
	require.NoError(t, err)
	defer r3()
}

func TestMutexReleaseIgnoresStolenLock(t *testing.T) {
	m, mr := testMutex(t, 50*time.Millisecond, 100*time.Millisecond)
	ctx := context.Background()
	key := UserAssignmentLockKey("acme", "alice")

	release, err := m.Acquire(ctx, key)
	require.NoError(t, err)

	// TTL expiry hands the lock to another writer; the stale release must
	// not delete the new holder's token.
	mr.FastForward(time.Second)
	release2, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	defer release2()

	release()
	assert.True(t, mr.Exists(key))
}
