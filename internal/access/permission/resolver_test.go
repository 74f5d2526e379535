// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/permission"
)

// catalogue returns the snapshot shared by the resolver tests.
func catalogue() *permission.Snapshot {
	return &permission.Snapshot{
		Permissions: []permission.Permission{
			{Name: "course.view", Category: "course"},
			{Name: "course.create", Category: "course"},
			{Name: "user.manage", Category: "user"},
			{Name: "report.view", Category: "report"},
		},
		RoleBindings: map[string][]string{
			"admin":   {"course.view", "course.create", "user.manage", "security.manage"},
			"trainer": {"course.view", "Course.Create "},
			"student": {"course.view"},
		},
		CustomRoles: map[string]permission.CustomRole{
			"cr-reports": {ID: "cr-reports", OrgID: "org-1", Name: "Reporter"},
			"cr-foreign": {ID: "cr-foreign", OrgID: "org-2", Name: "Other org"},
		},
		CustomBindings: map[string][]string{
			"cr-reports": {"report.view"},
			"cr-foreign": {"user.manage"},
		},
	}
}

// brokenCatalogue fails role lookups for selected roles.
type brokenCatalogue struct {
	*permission.Snapshot
	failRole string
}

func (c brokenCatalogue) RolePermissions(role string) ([]string, error) {
	if role == c.failRole {
		return nil, errors.New("binding table unreadable")
	}
	return c.Snapshot.RolePermissions(role)
}

/*
TestResolve_UnionOfRoles verifies that built-in and custom role bindings are merged.
*/
func TestResolve_UnionOfRoles(t *testing.T) {
	result, err := permission.Resolve(permission.Membership{
		UserID:        "u1",
		OrgID:         "org-1",
		Roles:         []string{"student"},
		CustomRoleIDs: []string{"cr-reports"},
	}, catalogue())

	require.NoError(t, err)
	assert.Empty(t, result.Degraded)
	assert.Equal(t, []string{"course.view", "report.view"}, result.Set.Names())
}

/*
TestResolve_NormalizesNames ensures hand-entered catalogue data matches code.
*/
func TestResolve_NormalizesNames(t *testing.T) {
	set, err := permission.ResolveEffectivePermissions(permission.Membership{
		UserID: "u1",
		OrgID:  "org-1",
		Roles:  []string{" Trainer"},
	}, catalogue())

	require.NoError(t, err)
	assert.True(t, set.Has("course.create"))
	assert.True(t, set.Has("COURSE.CREATE"))
	assert.Equal(t, 2, set.Len())
}

/*
TestResolve_DanglingCustomRole checks that a deleted custom role contributes
nothing and yields the same set as if it had never been assigned.
*/
func TestResolve_DanglingCustomRole(t *testing.T) {
	base := permission.Membership{UserID: "u1", OrgID: "org-1", Roles: []string{"trainer"}}
	withDangling := base
	withDangling.CustomRoleIDs = []string{"cr-deleted"}

	expected, err := permission.Resolve(base, catalogue())
	require.NoError(t, err)

	actual, err := permission.Resolve(withDangling, catalogue())
	require.NoError(t, err)

	assert.True(t, expected.Set.Equal(actual.Set))
	require.Len(t, actual.Degraded, 1)
	assert.Equal(t, permission.DegradedCustomRole, actual.Degraded[0].Kind)
	assert.ErrorIs(t, actual.Degraded[0].Err, permission.ErrUnknownCustomRole)
}

/*
TestResolve_ForeignCustomRole ensures a custom role of another organisation grants nothing.
*/
func TestResolve_ForeignCustomRole(t *testing.T) {
	result, err := permission.Resolve(permission.Membership{
		UserID:        "u1",
		OrgID:         "org-1",
		CustomRoleIDs: []string{"cr-foreign"},
	}, catalogue())

	require.NoError(t, err)
	assert.False(t, result.Set.Has("user.manage"))
	require.Len(t, result.Degraded, 1)
	assert.ErrorIs(t, result.Degraded[0].Err, permission.ErrForeignCustomRole)
}

/*
TestResolve_RoleLookupFailureIsIsolated verifies that one unreadable binding
does not poison the rest of the resolution.
*/
func TestResolve_RoleLookupFailureIsIsolated(t *testing.T) {
	broken := brokenCatalogue{Snapshot: catalogue(), failRole: "admin"}

	result, err := permission.Resolve(permission.Membership{
		UserID:        "u1",
		OrgID:         "org-1",
		Roles:         []string{"admin", "student"},
		CustomRoleIDs: []string{"cr-reports"},
	}, broken)

	require.NoError(t, err)
	assert.Equal(t, []string{"course.view", "report.view"}, result.Set.Names())
	require.Len(t, result.Degraded, 1)
	assert.Equal(t, permission.DegradedBuiltInRole, result.Degraded[0].Kind)
	assert.Equal(t, "admin", result.Degraded[0].Ref)
}

/*
TestResolve_Monotonic checks that adding a role never removes a permission.
*/
func TestResolve_Monotonic(t *testing.T) {
	roles := []string{"student", "trainer", "admin"}
	custom := []string{"cr-reports", "cr-deleted", "cr-foreign"}

	previous := permission.NewSet()
	for i := range roles {
		membership := permission.Membership{
			UserID:        "u1",
			OrgID:         "org-1",
			Roles:         roles[:i+1],
			CustomRoleIDs: custom[:i+1],
		}
		set, err := permission.ResolveEffectivePermissions(membership, catalogue())
		require.NoError(t, err)

		assert.True(t, set.Contains(previous), "step %d lost permissions", i)
		previous = set
	}
}

/*
TestResolve_OrderIndependent ensures role order does not change the result.
*/
func TestResolve_OrderIndependent(t *testing.T) {
	roles := []string{"admin", "trainer", "student"}
	forward, err := permission.ResolveEffectivePermissions(permission.Membership{UserID: "u1", OrgID: "org-1", Roles: roles}, catalogue())
	require.NoError(t, err)

	reversed := slices.Clone(roles)
	slices.Reverse(reversed)
	backward, err := permission.ResolveEffectivePermissions(permission.Membership{UserID: "u1", OrgID: "org-1", Roles: reversed}, catalogue())
	require.NoError(t, err)

	assert.True(t, forward.Equal(backward))
}

/*
TestResolve_HardFailures covers the only condition that returns an error.
*/
func TestResolve_HardFailures(t *testing.T) {
	_, err := permission.Resolve(permission.Membership{OrgID: "org-1"}, catalogue())
	assert.ErrorIs(t, err, permission.ErrIdentityUnavailable)
}

/*
TestResolve_NilCatalogueDegrades checks that a missing catalogue grants nothing
and reports each reference instead of failing.
*/
func TestResolve_NilCatalogueDegrades(t *testing.T) {
	result, err := permission.Resolve(permission.Membership{
		UserID:        "u1",
		OrgID:         "org-1",
		Roles:         []string{"Admin"},
		CustomRoleIDs: []string{"cr-1"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Set.Len())
	require.Len(t, result.Degraded, 2)
	assert.Equal(t, "admin", result.Degraded[0].Ref)
	assert.Equal(t, permission.DegradedCustomRole, result.Degraded[1].Kind)
	assert.ErrorIs(t, result.Degraded[1].Err, permission.ErrCatalogueUnavailable)
}

/*
TestSet_Predicates covers the empty-input rules of the check helpers.
*/
func TestSet_Predicates(t *testing.T) {
	set := permission.NewSet("course.view", "report.view")

	tests := []struct {
		name  string
		names []string
		any   bool
		all   bool
	}{
		{"empty", nil, false, true},
		{"single_granted", []string{"course.view"}, true, true},
		{"mixed", []string{"course.view", "user.manage"}, true, false},
		{"none_granted", []string{"user.manage"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.any, permission.HasAny(set, tt.names))
			assert.Equal(t, tt.all, permission.HasAll(set, tt.names))
		})
	}

	assert.True(t, permission.HasPermission(set, "Report.View"))
	assert.False(t, permission.HasPermission(permission.NewSet(), "report.view"))
}
