package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		pattern string
		want    string
	}{
		{"/sys-roles", "/sys-roles"},
		{"/sys-roles/{id}", "/sys-roles/{id}"},
		{"/sys-roles/:id", "/sys-roles/{id}"},
		{"/sys-roles/{id:[0-9]+}", "/sys-roles/{id}"},
		{"/sys-roles/{roleID}/users", "/sys-roles/{roleID}/users"},
		{"/files/*", "/files/{wildcard}"},
		{"sys-roles", "/sys-roles"},
		{"/sys-roles/", "/sys-roles"},
		{"", "/"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePath(tc.pattern), "pattern %q", tc.pattern)
	}
}

func TestCollectNormalizesAndSorts(t *testing.T) {
	reg := New()
	reg.Register(AppDescriptor{
		Controller: "roles",
		Routes: []Route{
			{Method: "GET", Pattern: "/sys-roles/{id:[0-9]+}", Resource: "sys-roles", Action: "read", Summary: "Get role"},
			{Method: "GET", Pattern: "/sys-roles", Resource: "sys-roles", Action: "read", Summary: "List roles"},
			{Method: "POST", Pattern: "/sys-roles", Resource: "sys-roles", Action: "create", Summary: "Create role"},
		},
	})

	got := reg.Collect()
	require.Len(t, got, 3)
	assert.Equal(t, "/sys-roles", got[0].Path)
	assert.Equal(t, "GET", got[0].Method)
	assert.Equal(t, "POST", got[1].Method)
	assert.Equal(t, "/sys-roles/{id}", got[2].Path)
	assert.Equal(t, "roles", got[2].Controller)
}

func TestCollectIsDeterministic(t *testing.T) {
	reg := New()
	reg.Register(
		AppDescriptor{Controller: "b", Routes: []Route{
			{Method: "GET", Pattern: "/b", Resource: "b", Action: "read"},
		}},
		AppDescriptor{Controller: "a", Routes: []Route{
			{Method: "DELETE", Pattern: "/a/:id", Resource: "a", Action: "delete"},
			{Method: "GET", Pattern: "/a", Resource: "a", Action: "read"},
		}},
	)

	first := reg.Collect()
	second := reg.Collect()
	assert.Equal(t, first, second)
}

func TestCollectSkipsUndeclaredAndDuplicates(t *testing.T) {
	reg := New()
	reg.Register(AppDescriptor{
		Controller: "misc",
		Routes: []Route{
			{Method: "GET", Pattern: "/healthz"},
			{Method: "GET", Pattern: "/things", Resource: "things", Action: "read"},
			{Method: "GET", Pattern: "/things/", Resource: "things", Action: "read"},
		},
	})

	got := reg.Collect()
	require.Len(t, got, 1)
	assert.Equal(t, "/things", got[0].Path)
}
