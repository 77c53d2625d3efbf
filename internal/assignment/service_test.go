package assignment

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-authz/palisade/internal/policy"
)

type mockRepo struct {
	roles     map[string]struct{} // "domain/role"
	userRoles map[string][]string // "domain/user" -> role ids
	roleMenus map[string][]string

	replaceUserCalls int
	replaceRoleCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		roles:     make(map[string]struct{}),
		userRoles: make(map[string][]string),
		roleMenus: make(map[string][]string),
	}
}

func userKey(domain, userID string) string { return domain + "/" + userID }

func (m *mockRepo) addRole(domain string, roleIDs ...string) {
	for _, id := range roleIDs {
		m.roles[domain+"/"+id] = struct{}{}
	}
}

func (m *mockRepo) RoleExists(_ context.Context, roleID, domain string) (bool, error) {
	_, ok := m.roles[domain+"/"+roleID]
	return ok, nil
}

func (m *mockRepo) AssignedRoleIDs(_ context.Context, userID, domain string) ([]string, error) {
	return append([]string(nil), m.userRoles[userKey(domain, userID)]...), nil
}

func (m *mockRepo) ReplaceUserRoles(_ context.Context, userID, domain string, add, remove []string) error {
	m.replaceUserCalls++
	m.applyUserDiff(userID, domain, add, remove)
	return nil
}

func (m *mockRepo) applyUserDiff(userID, domain string, add, remove []string) {
	key := userKey(domain, userID)
	gone := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		gone[id] = struct{}{}
	}
	var next []string
	for _, id := range m.userRoles[key] {
		if _, ok := gone[id]; !ok {
			next = append(next, id)
		}
	}
	next = append(next, add...)
	sort.Strings(next)
	m.userRoles[key] = next
}

func (m *mockRepo) RoleUsers(_ context.Context, roleID, domain string) ([]string, error) {
	var users []string
	for key, roleIDs := range m.userRoles {
		for _, id := range roleIDs {
			if id == roleID && key[:len(domain)] == domain {
				users = append(users, key[len(domain)+1:])
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

func (m *mockRepo) ReplaceRoleUsers(_ context.Context, roleID, domain string, add, remove []string) error {
	m.replaceRoleCalls++
	for _, userID := range remove {
		m.applyUserDiff(userID, domain, nil, []string{roleID})
	}
	for _, userID := range add {
		m.applyUserDiff(userID, domain, []string{roleID}, nil)
	}
	return nil
}

func (m *mockRepo) RoleMenus(_ context.Context, roleID string) ([]string, error) {
	return append([]string(nil), m.roleMenus[roleID]...), nil
}

func (m *mockRepo) ReplaceRoleMenus(_ context.Context, roleID string, add, remove []string) error {
	gone := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		gone[id] = struct{}{}
	}
	var next []string
	for _, id := range m.roleMenus[roleID] {
		if _, ok := gone[id]; !ok {
			next = append(next, id)
		}
	}
	next = append(next, add...)
	sort.Strings(next)
	m.roleMenus[roleID] = next
	return nil
}

type recordingCache struct {
	users   []string
	domains []string
}

func (c *recordingCache) Invalidate(_ context.Context, userID, domain string) error {
	c.users = append(c.users, domain+"/"+userID)
	return nil
}

func (c *recordingCache) InvalidateDomain(_ context.Context, domain string) error {
	c.domains = append(c.domains, domain)
	return nil
}

type noopLocker struct{ acquired []string }

func (l *noopLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

// flakyPolicy wraps a real store and fails AddRoleForUser after a number of
// successful calls. Optionally the rollback path fails too.
type flakyPolicy struct {
	*policy.Store
	addBudget  int
	failDelete bool
}

func (f *flakyPolicy) AddRoleForUser(userID, roleID, domain string) error {
	if f.addBudget <= 0 {
		return errors.New("engine write refused")
	}
	f.addBudget--
	return f.Store.AddRoleForUser(userID, roleID, domain)
}

func (f *flakyPolicy) DeleteRoleForUser(userID, roleID, domain string) error {
	if f.failDelete {
		return errors.New("engine delete refused")
	}
	return f.Store.DeleteRoleForUser(userID, roleID, domain)
}

func newTestService(t *testing.T) (*Service, *mockRepo, *policy.Store, *recordingCache, *noopLocker) {
	t.Helper()
	store, err := policy.NewMemoryStore()
	require.NoError(t, err)
	repo := newMockRepo()
	cache := &recordingCache{}
	locks := &noopLocker{}
	svc := NewService(slog.Default(), repo, store, cache, locks)
	return svc, repo, store, cache, locks
}

func TestAssignRolesToUserIsIdempotent(t *testing.T) {
	svc, repo, store, cache, locks := newTestService(t)
	repo.addRole("acme", "editor", "viewer")
	ctx := context.Background()

	res, err := svc.AssignRolesToUser(ctx, "alice", []string{"editor", "viewer"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2}, res)

	roles, err := store.RolesForUser("alice", "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"editor", "viewer"}, roles)
	assert.Equal(t, []string{"acme/alice"}, cache.users)
	assert.NotEmpty(t, locks.acquired)

	// Replaying the same request changes nothing and skips the write path.
	res, err = svc.AssignRolesToUser(ctx, "alice", []string{"viewer", "editor"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, repo.replaceUserCalls)
	assert.Len(t, cache.users, 1)
}

func TestAssignRolesToUserRequestedSetIsAuthoritative(t *testing.T) {
	svc, repo, store, cache, _ := newTestService(t)
	repo.addRole("acme", "editor", "viewer")
	ctx := context.Background()

	_, err := svc.AssignRolesToUser(ctx, "alice", []string{"editor", "viewer"}, "acme")
	require.NoError(t, err)

	res, err := svc.AssignRolesToUser(ctx, "alice", []string{"viewer"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1}, res)

	roles, err := store.RolesForUser("alice", "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, roles)
	assert.Equal(t, []string{"viewer"}, repo.userRoles["acme/alice"])
	assert.Len(t, cache.users, 2)
}

func TestAssignRolesToUserEmptySetRemovesAll(t *testing.T) {
	svc, repo, store, _, _ := newTestService(t)
	repo.addRole("acme", "editor", "viewer")
	ctx := context.Background()

	_, err := svc.AssignRolesToUser(ctx, "alice", []string{"editor", "viewer"}, "acme")
	require.NoError(t, err)

	res, err := svc.AssignRolesToUser(ctx, "alice", nil, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 2}, res)

	roles, err := store.RolesForUser("alice", "acme")
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Empty(t, repo.userRoles["acme/alice"])
}

func TestAssignUsersToRoleInvalidatesEveryAffectedUser(t *testing.T) {
	svc, repo, store, cache, _ := newTestService(t)
	repo.addRole("acme", "editor")
	ctx := context.Background()

	res, err := svc.AssignUsersToRole(ctx, "editor", []string{"alice", "bob"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2}, res)

	for _, user := range []string{"alice", "bob"} {
		roles, err := store.RolesForUser(user, "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"editor"}, roles)
	}
	assert.ElementsMatch(t, []string{"acme/alice", "acme/bob"}, cache.users)

	// Dropping bob invalidates only bob.
	cache.users = nil
	res, err = svc.AssignUsersToRole(ctx, "editor", []string{"alice"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1}, res)
	assert.Equal(t, []string{"acme/bob"}, cache.users)
}

func TestAssignPermissionsToRoleDiffsGrants(t *testing.T) {
	svc, repo, store, cache, _ := newTestService(t)
	repo.addRole("acme", "editor")
	ctx := context.Background()

	res, err := svc.AssignPermissionsToRole(ctx, "editor", []Permission{
		{Resource: "documents", Action: "read"},
		{Resource: "documents", Action: "write"},
	}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2}, res)

	res, err = svc.AssignPermissionsToRole(ctx, "editor", []Permission{
		{Resource: "documents", Action: "read"},
	}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Removed: 1}, res)

	grants, err := store.PermissionsForSubject("editor", "acme")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "documents", grants[0].Object)
	assert.Equal(t, "read", grants[0].Action)
	assert.Equal(t, []string{"acme", "acme"}, cache.domains)
}

func TestAssignPermissionsToRoleLeavesDenyRulesAlone(t *testing.T) {
	svc, repo, store, _, _ := newTestService(t)
	repo.addRole("acme", "editor")
	ctx := context.Background()

	deny := policy.NewGrant("editor", "documents", "purge", "acme")
	deny.Effect = policy.EffectDeny
	require.NoError(t, store.AddPolicies([]policy.Tuple{deny}))

	_, err := svc.AssignPermissionsToRole(ctx, "editor", []Permission{
		{Resource: "documents", Action: "read"},
	}, "acme")
	require.NoError(t, err)

	tuples, err := store.PermissionsForSubject("editor", "acme")
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	var effects []string
	for _, tup := range tuples {
		effects = append(effects, tup.Effect)
	}
	assert.ElementsMatch(t, []string{policy.EffectAllow, policy.EffectDeny}, effects)
}

func TestAssignRolesCompensatesOnEngineFailure(t *testing.T) {
	store, err := policy.NewMemoryStore()
	require.NoError(t, err)
	flaky := &flakyPolicy{Store: store, addBudget: 1}
	repo := newMockRepo()
	repo.addRole("acme", "editor", "viewer")
	cache := &recordingCache{}
	svc := NewService(slog.Default(), repo, flaky, cache, &noopLocker{})
	ctx := context.Background()

	_, err = svc.AssignRolesToUser(ctx, "alice", []string{"editor", "viewer"}, "acme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInconsistent)

	// The first engine write was rolled back, so the engine holds nothing.
	roles, rerr := store.RolesForUser("alice", "acme")
	require.NoError(t, rerr)
	assert.Empty(t, roles)

	// The relational rows committed before the engine failed; the cache was
	// still invalidated so the next read hits the authoritative store.
	assert.Equal(t, []string{"editor", "viewer"}, repo.userRoles["acme/alice"])
	assert.Equal(t, []string{"acme/alice"}, cache.users)
}

func TestAssignRolesReportsInconsistencyWhenCompensationFails(t *testing.T) {
	store, err := policy.NewMemoryStore()
	require.NoError(t, err)
	flaky := &flakyPolicy{Store: store, addBudget: 1, failDelete: true}
	repo := newMockRepo()
	repo.addRole("acme", "editor", "viewer")
	svc := NewService(slog.Default(), repo, flaky, &recordingCache{}, &noopLocker{})

	_, err = svc.AssignRolesToUser(context.Background(), "alice", []string{"editor", "viewer"}, "acme")
	require.ErrorIs(t, err, ErrInconsistent)
}

func TestAssignMenusToRoleSkipsPolicyAndCache(t *testing.T) {
	svc, repo, store, cache, _ := newTestService(t)
	repo.addRole("acme", "editor")
	ctx := context.Background()

	res, err := svc.AssignMenusToRole(ctx, "editor", []string{"m1", "m2"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2}, res)
	assert.Equal(t, []string{"m1", "m2"}, repo.roleMenus["editor"])

	res, err = svc.AssignMenusToRole(ctx, "editor", []string{"m2", "m3"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1, Removed: 1}, res)
	assert.Equal(t, []string{"m2", "m3"}, repo.roleMenus["editor"])

	tuples, err := store.Policies()
	require.NoError(t, err)
	assert.Empty(t, tuples)
	assert.Empty(t, cache.users)
	assert.Empty(t, cache.domains)
}

func TestAssignPermissionsToUnknownRolePersistsNothing(t *testing.T) {
	svc, _, store, cache, _ := newTestService(t)

	_, err := svc.AssignPermissionsToRole(context.Background(), "ghost-role", []Permission{
		{Resource: "sys-users", Action: "read"},
	}, "acme")
	require.ErrorIs(t, err, ErrRoleNotFound)

	grants, gerr := store.PermissionsForSubject("ghost-role", "acme")
	require.NoError(t, gerr)
	assert.Empty(t, grants)
	assert.Empty(t, cache.domains)
}

func TestAssignRolesToUserRejectsUnknownRole(t *testing.T) {
	svc, repo, store, cache, _ := newTestService(t)
	repo.addRole("acme", "editor")

	// One valid role does not rescue a request naming a ghost one.
	_, err := svc.AssignRolesToUser(context.Background(), "alice", []string{"editor", "ghost-role"}, "acme")
	require.ErrorIs(t, err, ErrRoleNotFound)

	assert.Empty(t, repo.userRoles["acme/alice"])
	assert.Zero(t, repo.replaceUserCalls)
	roles, rerr := store.RolesForUser("alice", "acme")
	require.NoError(t, rerr)
	assert.Empty(t, roles)
	assert.Empty(t, cache.users)
}

func TestAssignUsersToUnknownRoleRejected(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	_, err := svc.AssignUsersToRole(context.Background(), "ghost-role", []string{"alice"}, "acme")
	require.ErrorIs(t, err, ErrRoleNotFound)
	assert.Zero(t, repo.replaceRoleCalls)
}

func TestAssignRolesToUserDomainScopesExistence(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	repo.addRole("globex", "editor")

	// The role exists, but in another domain.
	_, err := svc.AssignRolesToUser(context.Background(), "alice", []string{"editor"}, "acme")
	require.ErrorIs(t, err, ErrRoleNotFound)
}
