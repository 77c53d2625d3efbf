// Package rolecache caches resolved role sets per (user, domain) in redis.
// The user_roles table remains the source of truth; entries are TTL-bounded
// and invalidated synchronously on every assignment mutation.
package rolecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the cache backend could not be reached. Read-path
// callers fall back to the authoritative store and log a degradation signal;
// they never surface this to the end caller.
var ErrUnavailable = errors.New("rolecache: backend unavailable")

// noRolesMarker is cached when a user legitimately has no roles. It is
// distinct from "uncached" to avoid a thundering herd of repeated lookups,
// and expires on a shorter TTL so a later grant becomes visible promptly.
const noRolesMarker = "!none"

// Cache is a write-through role-set cache keyed by (user, domain).
type Cache struct {
	client      *redis.Client
	ttl         time.Duration
	negativeTTL time.Duration
}

// New constructs a Cache. Zero TTLs default to 30m for resolved sets and
// 5m for empty sets.
func New(client *redis.Client, ttl, negativeTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if negativeTTL <= 0 {
		negativeTTL = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl, negativeTTL: negativeTTL}
}

func key(userID, domain string) string {
	return fmt.Sprintf("authz:roles:%s:%s", domain, userID)
}

// Get returns the cached role set and whether the lookup was a hit. A cached
// empty set is a hit carrying zero roles.
func (c *Cache) Get(ctx context.Context, userID, domain string) ([]string, bool, error) {
	val, err := c.client.Get(ctx, key(userID, domain)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if val == noRolesMarker {
		return []string{}, true, nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(val), &roles); err != nil {
		// Treat a corrupt entry as a miss so the caller repopulates it.
		return nil, false, nil
	}
	return roles, true, nil
}

// Set stores the role set for (user, domain). Empty sets are stored as a
// negative marker with the shorter TTL.
func (c *Cache) Set(ctx context.Context, userID, domain string, roles []string) error {
	if len(roles) == 0 {
		if err := c.client.Set(ctx, key(userID, domain), noRolesMarker, c.negativeTTL).Err(); err != nil {
			return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
		}
		return nil
	}
	raw, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("rolecache: marshal roles: %w", err)
	}
	if err := c.client.Set(ctx, key(userID, domain), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

// Invalidate drops the cached role set for (user, domain).
func (c *Cache) Invalidate(ctx context.Context, userID, domain string) error {
	if err := c.client.Del(ctx, key(userID, domain)).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return nil
}

// InvalidateDomain drops every cached role set within domain. Used when a
// role definition changes and the affected user set is unknown.
func (c *Cache) InvalidateDomain(ctx context.Context, domain string) error {
	pattern := fmt.Sprintf("authz:roles:%s:*", domain)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return nil
}
