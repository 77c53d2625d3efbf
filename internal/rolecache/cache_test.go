package rolecache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, 30*time.Minute, 5*time.Minute), mr
}

func TestGetMissThenHit(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	roles, hit, err := cache.Get(ctx, "u1", "default")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, roles)

	require.NoError(t, cache.Set(ctx, "u1", "default", []string{"admin", "editor"}))

	roles, hit, err = cache.Get(ctx, "u1", "default")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"admin", "editor"}, roles)
}

func TestNegativeMarkerIsDistinctFromMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "roleless", "default", nil))

	roles, hit, err := cache.Get(ctx, "roleless", "default")
	require.NoError(t, err)
	assert.True(t, hit, "cached empty set must be a hit")
	assert.Empty(t, roles)

	// The negative entry expires on the shorter TTL.
	mr.FastForward(5*time.Minute + time.Second)
	_, hit, err = cache.Get(ctx, "roleless", "default")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestResolvedEntryOutlivesNegativeTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", "default", []string{"admin"}))
	mr.FastForward(10 * time.Minute)

	roles, hit, err := cache.Get(ctx, "u1", "default")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"admin"}, roles)
}

func TestInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", "default", []string{"admin"}))
	require.NoError(t, cache.Invalidate(ctx, "u1", "default"))

	_, hit, err := cache.Get(ctx, "u1", "default")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidateDomainScopesToDomain(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", "default", []string{"admin"}))
	require.NoError(t, cache.Set(ctx, "u2", "default", []string{"editor"}))
	require.NoError(t, cache.Set(ctx, "u1", "tenantB", []string{"viewer"}))

	require.NoError(t, cache.InvalidateDomain(ctx, "default"))

	_, hit, err := cache.Get(ctx, "u1", "default")
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = cache.Get(ctx, "u2", "default")
	require.NoError(t, err)
	assert.False(t, hit)

	roles, hit, err := cache.Get(ctx, "u1", "tenantB")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"viewer"}, roles)
}

func TestBackendDownReturnsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := New(client, 0, 0)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "u1", "default")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = cache.Set(context.Background(), "u1", "default", []string{"admin"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCorruptEntryTreatedAsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("authz:roles:default:u1", "{not-json"))

	_, hit, err := cache.Get(context.Background(), "u1", "default")
	require.NoError(t, err)
	assert.False(t, hit)
}
