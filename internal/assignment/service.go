package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/palisade-authz/palisade/internal/policy"
	"github.com/palisade-authz/palisade/internal/shared"
)

// ErrRoleNotFound reports a target role id with no backing row in the
// caller's domain. Assignments never create roles implicitly.
var ErrRoleNotFound = errors.New("assignment: role not found")

// ErrInconsistent reports that a policy engine mutation failed and the
// compensating rollback failed too, leaving the relational store and the
// policy engine disagreeing. The next reconciliation pass repairs the drift,
// but callers should surface this loudly.
var ErrInconsistent = errors.New("assignment: stores inconsistent")

// Permission is a single (resource, action) grant for a role.
type Permission struct {
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

// Result reports how a diff-based assignment changed state. Replaying the
// same request yields (0, 0).
type Result struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	RoleExists(ctx context.Context, roleID, domain string) (bool, error)
	AssignedRoleIDs(ctx context.Context, userID, domain string) ([]string, error)
	ReplaceUserRoles(ctx context.Context, userID, domain string, add, remove []string) error
	RoleUsers(ctx context.Context, roleID, domain string) ([]string, error)
	ReplaceRoleUsers(ctx context.Context, roleID, domain string, add, remove []string) error
	RoleMenus(ctx context.Context, roleID string) ([]string, error)
	ReplaceRoleMenus(ctx context.Context, roleID string, add, remove []string) error
}

// PolicyPort is the slice of the policy store the service mutates.
type PolicyPort interface {
	AddRoleForUser(userID, roleID, domain string) error
	DeleteRoleForUser(userID, roleID, domain string) error
	PermissionsForSubject(subject, domain string) ([]policy.Tuple, error)
	AddPolicies(tuples []policy.Tuple) error
	RemovePolicies(tuples []policy.Tuple) error
}

// CachePort invalidates cached role sets after membership changes.
type CachePort interface {
	Invalidate(ctx context.Context, userID, domain string) error
	InvalidateDomain(ctx context.Context, domain string) error
}

// Locker serializes competing writers on a per (domain, principal) key.
// *shared.Mutex satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service implements diff-based, idempotent assignment across the relational
// store and the policy engine.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	policy PolicyPort
	cache  CachePort
	locks  Locker
}

// NewService constructs the assignment service.
func NewService(logger *slog.Logger, repo RepositoryPort, pol PolicyPort, cache CachePort, locks Locker) *Service {
	return &Service{logger: logger, repo: repo, policy: pol, cache: cache, locks: locks}
}

// AssignRolesToUser replaces the user's role set with roleIDs. The requested
// set is authoritative: roles present but not requested are removed. The
// relational store commits first, then the policy engine mirrors the diff;
// a failed engine write is compensated by rolling back the rows already
// applied to it.
func (s *Service) AssignRolesToUser(ctx context.Context, userID string, roleIDs []string, domain string) (Result, error) {
	release, err := s.locks.Acquire(ctx, shared.UserAssignmentLockKey(domain, userID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	current, err := s.repo.AssignedRoleIDs(ctx, userID, domain)
	if err != nil {
		return Result{}, err
	}
	toAdd, toRemove := diff(roleIDs, current)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return Result{}, nil
	}
	// Only roles entering the set need to exist; everything in toRemove
	// came from the assignment table.
	for _, roleID := range toAdd {
		if err := s.requireRole(ctx, roleID, domain); err != nil {
			return Result{}, err
		}
	}

	if err := s.repo.ReplaceUserRoles(ctx, userID, domain, toAdd, toRemove); err != nil {
		return Result{}, err
	}
	// The relational rows changed, so the cache entry is stale no matter
	// what happens to the policy engine below.
	defer s.invalidateUser(ctx, userID, domain)

	if err := s.mirrorMemberships(domain, memberDiff(userID, toAdd, toRemove)); err != nil {
		return Result{}, err
	}
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// AssignUsersToRole replaces the set of users holding roleID in domain.
func (s *Service) AssignUsersToRole(ctx context.Context, roleID string, userIDs []string, domain string) (Result, error) {
	release, err := s.locks.Acquire(ctx, shared.RoleAssignmentLockKey(domain, roleID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := s.requireRole(ctx, roleID, domain); err != nil {
		return Result{}, err
	}
	current, err := s.repo.RoleUsers(ctx, roleID, domain)
	if err != nil {
		return Result{}, err
	}
	toAdd, toRemove := diff(userIDs, current)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return Result{}, nil
	}

	if err := s.repo.ReplaceRoleUsers(ctx, roleID, domain, toAdd, toRemove); err != nil {
		return Result{}, err
	}
	defer func() {
		for _, userID := range toAdd {
			s.invalidateUser(ctx, userID, domain)
		}
		for _, userID := range toRemove {
			s.invalidateUser(ctx, userID, domain)
		}
	}()

	var changes []membership
	for _, userID := range toRemove {
		changes = append(changes, membership{userID: userID, roleID: roleID, remove: true})
	}
	for _, userID := range toAdd {
		changes = append(changes, membership{userID: userID, roleID: roleID})
	}
	if err := s.mirrorMemberships(domain, changes); err != nil {
		return Result{}, err
	}
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// AssignPermissionsToRole replaces the role's allow grants in the policy
// engine. Deny rules attached to the role are left untouched; this operation
// manages grants only.
func (s *Service) AssignPermissionsToRole(ctx context.Context, roleID string, perms []Permission, domain string) (Result, error) {
	release, err := s.locks.Acquire(ctx, shared.RoleAssignmentLockKey(domain, roleID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := s.requireRole(ctx, roleID, domain); err != nil {
		return Result{}, err
	}
	existing, err := s.policy.PermissionsForSubject(roleID, domain)
	if err != nil {
		return Result{}, err
	}
	current := make(map[string]policy.Tuple)
	for _, t := range existing {
		if t.Effect != policy.EffectAllow {
			continue
		}
		current[t.Key()] = t
	}
	requested := make(map[string]policy.Tuple, len(perms))
	for _, p := range perms {
		t := policy.NewGrant(roleID, p.Resource, p.Action, domain)
		requested[t.Key()] = t
	}

	var toAdd, toRemove []policy.Tuple
	for key, t := range requested {
		if _, ok := current[key]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	for key, t := range current {
		if _, ok := requested[key]; !ok {
			toRemove = append(toRemove, t)
		}
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return Result{}, nil
	}

	// Permission changes affect every member of the role, so the whole
	// domain's cached role sets stay but enforcement outcomes shift. The
	// cache only stores role memberships, which are unchanged here, yet
	// invalidating the domain guarantees no resolver holds a decision
	// derived from the old grants in flight.
	defer s.invalidateDomain(ctx, domain)

	if len(toRemove) > 0 {
		if err := s.policy.RemovePolicies(toRemove); err != nil {
			return Result{}, err
		}
	}
	if len(toAdd) > 0 {
		if err := s.policy.AddPolicies(toAdd); err != nil {
			if len(toRemove) > 0 {
				if cerr := s.policy.AddPolicies(toRemove); cerr != nil {
					s.logger.Error("permission grant compensation failed",
						slog.String("role_id", roleID),
						slog.String("domain", domain),
						slog.Any("error", cerr))
					return Result{}, fmt.Errorf("%w: %v", ErrInconsistent, errors.Join(err, cerr))
				}
			}
			return Result{}, err
		}
	}
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// AssignMenusToRole replaces the role's menu links. Menus live only in the
// relational store, so no policy or cache write is involved.
func (s *Service) AssignMenusToRole(ctx context.Context, roleID string, menuIDs []string, domain string) (Result, error) {
	release, err := s.locks.Acquire(ctx, shared.RoleAssignmentLockKey(domain, roleID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := s.requireRole(ctx, roleID, domain); err != nil {
		return Result{}, err
	}
	current, err := s.repo.RoleMenus(ctx, roleID)
	if err != nil {
		return Result{}, err
	}
	toAdd, toRemove := diff(menuIDs, current)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return Result{}, nil
	}
	if err := s.repo.ReplaceRoleMenus(ctx, roleID, toAdd, toRemove); err != nil {
		return Result{}, err
	}
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// requireRole resolves the target role inside the lock so the whole
// operation is rejected before any store is touched.
func (s *Service) requireRole(ctx context.Context, roleID, domain string) error {
	exists, err := s.repo.RoleExists(ctx, roleID, domain)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s@%s", ErrRoleNotFound, roleID, domain)
	}
	return nil
}

type membership struct {
	userID string
	roleID string
	remove bool
}

func memberDiff(userID string, toAdd, toRemove []string) []membership {
	var changes []membership
	for _, roleID := range toRemove {
		changes = append(changes, membership{userID: userID, roleID: roleID, remove: true})
	}
	for _, roleID := range toAdd {
		changes = append(changes, membership{userID: userID, roleID: roleID})
	}
	return changes
}

// mirrorMemberships applies membership changes to the policy engine one row
// at a time, recording a compensation for each applied row. On failure the
// compensations run in reverse; if one of them fails too the stores have
// drifted and ErrInconsistent is returned.
func (s *Service) mirrorMemberships(domain string, changes []membership) error {
	var applied []membership
	for _, m := range changes {
		var err error
		if m.remove {
			err = s.policy.DeleteRoleForUser(m.userID, m.roleID, domain)
		} else {
			err = s.policy.AddRoleForUser(m.userID, m.roleID, domain)
		}
		if err != nil {
			return s.compensate(domain, applied, err)
		}
		applied = append(applied, m)
	}
	return nil
}

func (s *Service) compensate(domain string, applied []membership, cause error) error {
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]
		var cerr error
		if m.remove {
			cerr = s.policy.AddRoleForUser(m.userID, m.roleID, domain)
		} else {
			cerr = s.policy.DeleteRoleForUser(m.userID, m.roleID, domain)
		}
		if cerr != nil {
			s.logger.Error("membership compensation failed",
				slog.String("user_id", m.userID),
				slog.String("role_id", m.roleID),
				slog.String("domain", domain),
				slog.Any("error", cerr))
			return fmt.Errorf("%w: %v", ErrInconsistent, errors.Join(cause, cerr))
		}
	}
	return cause
}

func (s *Service) invalidateUser(ctx context.Context, userID, domain string) {
	if err := s.cache.Invalidate(ctx, userID, domain); err != nil {
		s.logger.Warn("role cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("domain", domain),
			slog.Any("error", err))
	}
}

func (s *Service) invalidateDomain(ctx context.Context, domain string) {
	if err := s.cache.InvalidateDomain(ctx, domain); err != nil {
		s.logger.Warn("domain cache invalidation failed",
			slog.String("domain", domain),
			slog.Any("error", err))
	}
}

// diff returns requested minus current and current minus requested, both
// sorted for deterministic application order.
func diff(requested, current []string) (toAdd, toRemove []string) {
	want := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if id == "" {
			continue
		}
		want[id] = struct{}{}
	}
	have := make(map[string]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	for id := range want {
		if _, ok := have[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}
