package roles

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-authz/palisade/internal/policy"
)

type mockRepo struct {
	roles   map[string]Role
	byCode  map[string]string
	deleted []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{roles: make(map[string]Role), byCode: make(map[string]string)}
}

func (m *mockRepo) List(_ context.Context, domain string) ([]Role, error) {
	var out []Role
	for _, r := range m.roles {
		if r.Domain == domain {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepo) Get(_ context.Context, id string) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *mockRepo) Create(_ context.Context, role Role) (Role, error) {
	key := role.Domain + "/" + role.Code
	if _, dup := m.byCode[key]; dup {
		return Role{}, ErrDuplicateCode
	}
	m.byCode[key] = role.ID
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockRepo) Update(_ context.Context, role Role) (Role, error) {
	existing, ok := m.roles[role.ID]
	if !ok {
		return Role{}, ErrNotFound
	}
	existing.Name = role.Name
	existing.Status = role.Status
	existing.ParentID = role.ParentID
	m.roles[role.ID] = existing
	return existing, nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type recordingCache struct {
	domains []string
}

func (c *recordingCache) InvalidateDomain(_ context.Context, domain string) error {
	c.domains = append(c.domains, domain)
	return nil
}

func newTestService(t *testing.T) (*Service, *mockRepo, *policy.Store, *recordingCache) {
	t.Helper()
	repo := newMockRepo()
	store, err := policy.NewMemoryStore()
	require.NoError(t, err)
	cache := &recordingCache{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, store, cache, logger), repo, store, cache
}

func TestCreateRole(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	role, err := svc.Create(context.Background(), CreateRoleInput{Code: "admin", Name: "Administrator", Domain: "default"})
	require.NoError(t, err)
	assert.NotEmpty(t, role.ID)
	assert.Equal(t, StatusEnabled, role.Status)

	_, err = svc.Create(context.Background(), CreateRoleInput{Code: "admin", Name: "Again", Domain: "default"})
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestCreateRoleWithParentRecordsInheritance(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateRoleInput{Code: "base", Name: "Base", Domain: "default"})
	require.NoError(t, err)
	require.NoError(t, store.AddPolicies([]policy.Tuple{policy.NewGrant(parent.ID, "sys-docs", "read", "default")}))

	child, err := svc.Create(ctx, CreateRoleInput{Code: "child", Name: "Child", Domain: "default", ParentID: &parent.ID})
	require.NoError(t, err)

	ok, err := store.Enforce(child.ID, "sys-docs", "read", "default")
	require.NoError(t, err)
	assert.True(t, ok, "child role inherits parent grants")
}

func TestCreateRoleRejectsCrossDomainParent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateRoleInput{Code: "base", Name: "Base", Domain: "tenantB"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRoleInput{Code: "child", Name: "Child", Domain: "default", ParentID: &parent.ID})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestUpdateRoleInvalidatesDomain(t *testing.T) {
	svc, _, _, cache := newTestService(t)
	ctx := context.Background()

	role, err := svc.Create(ctx, CreateRoleInput{Code: "editor", Name: "Editor", Domain: "default"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, UpdateRoleInput{ID: role.ID, Name: "Editor", Status: StatusDisabled})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, updated.Status)
	assert.Contains(t, cache.domains, "default")
}

func TestDeleteRoleCascades(t *testing.T) {
	svc, repo, store, cache := newTestService(t)
	ctx := context.Background()

	role, err := svc.Create(ctx, CreateRoleInput{Code: "admin", Name: "Administrator", Domain: "default"})
	require.NoError(t, err)
	require.NoError(t, store.AddPolicies([]policy.Tuple{policy.NewGrant(role.ID, "sys-users", "read", "default")}))
	require.NoError(t, store.AddRoleForUser("u1", role.ID, "default"))

	require.NoError(t, svc.Delete(ctx, role.ID))

	assert.Equal(t, []string{role.ID}, repo.deleted)
	perms, err := store.PermissionsForSubject(role.ID, "default")
	require.NoError(t, err)
	assert.Empty(t, perms, "policy rules are cascade-cleaned")
	users, err := store.RolesForUser("u1", "default")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Contains(t, cache.domains, "default")
}

func TestDeleteMissingRole(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	assert.ErrorIs(t, svc.Delete(context.Background(), "ghost"), ErrNotFound)
}
