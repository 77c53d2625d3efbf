// Package authz implements the request-path authorization decision. It
// resolves the caller's role set through the cache with an authoritative
// fallback, then asks the policy engine per role, OR-aggregated. Every
// failure mode on this path resolves to deny.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// RoleCache is the role-set cache consulted before the authoritative store.
type RoleCache interface {
	Get(ctx context.Context, userID, domain string) ([]string, bool, error)
	Set(ctx context.Context, userID, domain string, roles []string) error
}

// RoleSource is the authoritative user-role lookup backing the cache.
type RoleSource interface {
	UserRoles(ctx context.Context, userID, domain string) ([]string, error)
}

// Enforcer answers a single (subject, object, action, domain) check.
type Enforcer interface {
	Enforce(subject, object, action, domain string) (bool, error)
}

// DecisionRecorder receives decision and cache-lookup outcomes for metrics.
type DecisionRecorder interface {
	RecordDecision(allowed bool)
	RecordCacheLookup(outcome string)
}

// ResolverConfig tunes resolver behaviour.
type ResolverConfig struct {
	// DefaultDomain substitutes a missing request domain. Defaults to "default".
	DefaultDomain string
	// FallbackTimeout bounds the authoritative query on a cache miss.
	// A timeout denies. Defaults to 2s.
	FallbackTimeout time.Duration
}

// Resolver answers authorization questions for authenticated requests.
type Resolver struct {
	cache    RoleCache
	source   RoleSource
	enforcer Enforcer
	logger   *slog.Logger
	metrics  DecisionRecorder
	cfg      ResolverConfig

	fallback singleflight.Group
}

// NewResolver builds a Resolver. metrics may be nil.
func NewResolver(cache RoleCache, source RoleSource, enforcer Enforcer, logger *slog.Logger, metrics DecisionRecorder, cfg ResolverConfig) *Resolver {
	if cfg.DefaultDomain == "" {
		cfg.DefaultDomain = "default"
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 2 * time.Second
	}
	return &Resolver{cache: cache, source: source, enforcer: enforcer, logger: logger, metrics: metrics, cfg: cfg}
}

// Authorize reports whether the user may perform action on resource within
// domain. An empty domain resolves to the configured default, never a
// wildcard. Errors from the policy engine or the fallback query surface to
// the caller, who must treat them as deny.
func (r *Resolver) Authorize(ctx context.Context, userID, domain, resource, action string) (bool, error) {
	if userID == "" {
		r.recordDecision(false)
		return false, nil
	}
	if domain == "" {
		domain = r.cfg.DefaultDomain
	}

	roles, err := r.resolveRoles(ctx, userID, domain)
	if err != nil {
		r.recordDecision(false)
		return false, err
	}
	// An empty role set denies immediately; the engine is never consulted
	// with an unconstrained subject list.
	if len(roles) == 0 {
		r.recordDecision(false)
		return false, nil
	}

	for _, role := range roles {
		allowed, err := r.enforcer.Enforce(role, resource, action, domain)
		if err != nil {
			r.recordDecision(false)
			return false, err
		}
		if allowed {
			r.recordDecision(true)
			return true, nil
		}
	}
	r.recordDecision(false)
	return false, nil
}

// resolveRoles loads the role set from cache, falling back to the
// authoritative store on miss or cache failure. A cache-store failure is a
// degradation signal, never an authorization error.
func (r *Resolver) resolveRoles(ctx context.Context, userID, domain string) ([]string, error) {
	roles, hit, err := r.cache.Get(ctx, userID, domain)
	switch {
	case err != nil:
		r.recordCacheLookup("error")
		r.logger.Warn("role cache degraded, using authoritative store",
			slog.String("user_id", userID), slog.String("domain", domain), slog.Any("error", err))
	case hit:
		r.recordCacheLookup("hit")
		return roles, nil
	default:
		r.recordCacheLookup("miss")
	}

	// Concurrent misses for the same user collapse into one authoritative
	// query and one cache repopulation.
	v, err, _ := r.fallback.Do(domain+"/"+userID, func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, r.cfg.FallbackTimeout)
		defer cancel()
		roles, err := r.source.UserRoles(fctx, userID, domain)
		if err != nil {
			return nil, fmt.Errorf("authz: resolve roles for %s@%s: %w", userID, domain, err)
		}
		if err := r.cache.Set(ctx, userID, domain, roles); err != nil {
			r.logger.Warn("role cache repopulation failed",
				slog.String("user_id", userID), slog.String("domain", domain), slog.Any("error", err))
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (r *Resolver) recordDecision(allowed bool) {
	if r.metrics != nil {
		r.metrics.RecordDecision(allowed)
	}
}

func (r *Resolver) recordCacheLookup(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordCacheLookup(outcome)
	}
}
