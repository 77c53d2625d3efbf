package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEngine indicates the policy engine failed to evaluate or persist a rule.
// This is a backing failure, not "no match"; read-path callers must treat it
// as deny.
var ErrEngine = errors.New("policy: engine failure")

// Store wraps a synced casbin enforcer. Reads are safe for concurrent use;
// mutations are flushed to the policy_rules table before returning.
type Store struct {
	enforcer *casbin.SyncedEnforcer
}

// NewStore builds a Store persisted through the pgx adapter. The existing
// rule set is loaded into memory during construction.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	m, err := newModel()
	if err != nil {
		return nil, fmt.Errorf("policy: parse model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, NewAdapter(pool))
	if err != nil {
		return nil, fmt.Errorf("policy: new enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)
	return &Store{enforcer: enforcer}, nil
}

// NewMemoryStore builds a Store without persistence. Used for ephemeral runs
// and tests.
func NewMemoryStore() (*Store, error) {
	m, err := newModel()
	if err != nil {
		return nil, fmt.Errorf("policy: parse model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy: new enforcer: %w", err)
	}
	return &Store{enforcer: enforcer}, nil
}

// Enforce reports whether subject may perform action on object within domain.
func (s *Store) Enforce(subject, object, action, domain string) (bool, error) {
	ok, err := s.enforcer.Enforce(subject, object, action, domain)
	if err != nil {
		return false, fmt.Errorf("%w: enforce: %v", ErrEngine, err)
	}
	return ok, nil
}

// AddPolicies inserts the given tuples, validating each first. Permission
// tuples default to an allow effect.
func (s *Store) AddPolicies(tuples []Tuple) error {
	perms, groups, err := splitRules(tuples)
	if err != nil {
		return err
	}
	if len(perms) > 0 {
		if _, err := s.enforcer.AddPolicies(perms); err != nil {
			return fmt.Errorf("%w: add policies: %v", ErrEngine, err)
		}
	}
	if len(groups) > 0 {
		if _, err := s.enforcer.AddGroupingPolicies(groups); err != nil {
			return fmt.Errorf("%w: add grouping policies: %v", ErrEngine, err)
		}
	}
	return nil
}

// RemovePolicies deletes the given tuples.
func (s *Store) RemovePolicies(tuples []Tuple) error {
	perms, groups, err := splitRules(tuples)
	if err != nil {
		return err
	}
	if len(perms) > 0 {
		if _, err := s.enforcer.RemovePolicies(perms); err != nil {
			return fmt.Errorf("%w: remove policies: %v", ErrEngine, err)
		}
	}
	if len(groups) > 0 {
		if _, err := s.enforcer.RemoveGroupingPolicies(groups); err != nil {
			return fmt.Errorf("%w: remove grouping policies: %v", ErrEngine, err)
		}
	}
	return nil
}

// PermissionsForSubject returns the p-tuples granted directly to subject
// within domain.
func (s *Store) PermissionsForSubject(subject, domain string) ([]Tuple, error) {
	rules, err := s.enforcer.GetFilteredPolicy(0, subject, "", "", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: get permissions: %v", ErrEngine, err)
	}
	return permissionTuples(rules), nil
}

// Policies returns every p-tuple in the store, across all domains.
func (s *Store) Policies() ([]Tuple, error) {
	rules, err := s.enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("%w: get policies: %v", ErrEngine, err)
	}
	return permissionTuples(rules), nil
}

// RolesForUser returns the role ids directly assigned to userID within domain.
func (s *Store) RolesForUser(userID, domain string) ([]string, error) {
	rules, err := s.enforcer.GetFilteredGroupingPolicy(0, userID, "", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: get roles: %v", ErrEngine, err)
	}
	roles := make([]string, 0, len(rules))
	for _, rule := range rules {
		if len(rule) > 1 {
			roles = append(roles, rule[1])
		}
	}
	return roles, nil
}

// AddRoleForUser records that userID inherits roleID within domain.
func (s *Store) AddRoleForUser(userID, roleID, domain string) error {
	if _, err := s.enforcer.AddGroupingPolicy(userID, roleID, domain); err != nil {
		return fmt.Errorf("%w: add role for user: %v", ErrEngine, err)
	}
	return nil
}

// DeleteRoleForUser removes the inheritance of roleID by userID within domain.
func (s *Store) DeleteRoleForUser(userID, roleID, domain string) error {
	if _, err := s.enforcer.RemoveGroupingPolicy(userID, roleID, domain); err != nil {
		return fmt.Errorf("%w: delete role for user: %v", ErrEngine, err)
	}
	return nil
}

// RemoveSubject removes every rule referencing subject within domain: its
// direct grants, memberships it holds, and memberships held in it. Used when
// a role is deleted so no orphaned rules linger.
func (s *Store) RemoveSubject(subject, domain string) error {
	if _, err := s.enforcer.RemoveFilteredPolicy(0, subject, "", "", domain); err != nil {
		return fmt.Errorf("%w: remove subject policies: %v", ErrEngine, err)
	}
	if _, err := s.enforcer.RemoveFilteredGroupingPolicy(0, subject, "", domain); err != nil {
		return fmt.Errorf("%w: remove subject memberships: %v", ErrEngine, err)
	}
	if _, err := s.enforcer.RemoveFilteredGroupingPolicy(1, subject, domain); err != nil {
		return fmt.Errorf("%w: remove subject members: %v", ErrEngine, err)
	}
	return nil
}

func splitRules(tuples []Tuple) (perms, groups [][]string, err error) {
	for _, t := range tuples {
		if err := t.Validate(); err != nil {
			return nil, nil, err
		}
		switch t.PType {
		case PTypePermission:
			perms = append(perms, t.permissionRule())
		case PTypeGrouping:
			groups = append(groups, t.groupingRule())
		}
	}
	return perms, groups, nil
}

func permissionTuples(rules [][]string) []Tuple {
	tuples := make([]Tuple, 0, len(rules))
	for _, rule := range rules {
		t := Tuple{PType: PTypePermission}
		if len(rule) > 0 {
			t.Subject = rule[0]
		}
		if len(rule) > 1 {
			t.Object = rule[1]
		}
		if len(rule) > 2 {
			t.Action = rule[2]
		}
		if len(rule) > 3 {
			t.Domain = rule[3]
		}
		if len(rule) > 4 {
			t.Effect = rule[4]
		}
		tuples = append(tuples, t)
	}
	return tuples
}
