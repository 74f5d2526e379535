// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/permission"
)

// failingCatalogues simulates an unreachable catalogue store.
type failingCatalogues struct{}

func (failingCatalogues) Catalogue(context.Context, string) (*permission.Snapshot, error) {
	return nil, errors.New("connection refused")
}

/*
TestService_Resolve loads the membership and resolves it against the catalogue.
*/
func TestService_Resolve(t *testing.T) {
	repository := permission.NewMemoryRepository(catalogue())
	repository.SetMembership(permission.Membership{
		UserID: "u1",
		OrgID:  "org-1",
		Roles:  []string{"trainer"},
	})
	service := permission.NewService(repository, repository, nil, nil)

	result, err := service.Resolve(context.Background(), "org-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"course.create", "course.view"}, result.Set.Names())
}

/*
TestService_UnknownMemberIsAnError ensures an unknown principal never resolves
to an empty set.
*/
func TestService_UnknownMemberIsAnError(t *testing.T) {
	repository := permission.NewMemoryRepository(catalogue())
	service := permission.NewService(repository, repository, nil, nil)

	result, err := service.Resolve(context.Background(), "org-1", "ghost")
	assert.ErrorIs(t, err, permission.ErrIdentityUnavailable)
	assert.Zero(t, result.Set.Len())
}

/*
TestService_CatalogueFailure checks that a total load failure resolves to an
empty set with every role reference degraded, not to an error.
*/
func TestService_CatalogueFailure(t *testing.T) {
	memberships := permission.NewMemoryRepository(nil)
	memberships.SetMembership(permission.Membership{
		UserID:        "u1",
		OrgID:         "org-1",
		Roles:         []string{"admin", "trainer"},
		CustomRoleIDs: []string{"cr-1"},
	})
	service := permission.NewService(failingCatalogues{}, memberships, nil, nil)

	result, err := service.Resolve(context.Background(), "org-1", "u1")
	require.NoError(t, err)
	assert.Zero(t, result.Set.Len())
	require.Len(t, result.Degraded, 3)
	assert.Equal(t, permission.Degradation{Kind: permission.DegradedBuiltInRole, Ref: "admin"}, withoutErr(result.Degraded[0]))
	assert.Equal(t, permission.Degradation{Kind: permission.DegradedBuiltInRole, Ref: "trainer"}, withoutErr(result.Degraded[1]))
	assert.Equal(t, permission.Degradation{Kind: permission.DegradedCustomRole, Ref: "cr-1"}, withoutErr(result.Degraded[2]))
	for _, degradation := range result.Degraded {
		assert.ErrorIs(t, degradation.Err, permission.ErrCatalogueUnavailable)
	}

	_, err = service.Catalogue(context.Background(), "org-1")
	assert.ErrorIs(t, err, permission.ErrCatalogueUnavailable)
}

/*
TestService_MissingSnapshotDegrades covers a repository that has no snapshot
published yet.
*/
func TestService_MissingSnapshotDegrades(t *testing.T) {
	repository := permission.NewMemoryRepository(nil)
	repository.SetMembership(permission.Membership{UserID: "u1", OrgID: "org-1", Roles: []string{"student"}})
	service := permission.NewService(repository, repository, nil, nil)

	result, err := service.Resolve(context.Background(), "org-1", "u1")
	require.NoError(t, err)
	assert.Zero(t, result.Set.Len())
	require.Len(t, result.Degraded, 1)
	assert.ErrorIs(t, result.Degraded[0].Err, permission.ErrCatalogueUnavailable)
}

func withoutErr(degradation permission.Degradation) permission.Degradation {
	degradation.Err = nil
	return degradation
}

/*
TestService_PublishReplacesSnapshot verifies that later resolutions observe a
newly published catalogue.
*/
func TestService_PublishReplacesSnapshot(t *testing.T) {
	repository := permission.NewMemoryRepository(catalogue())
	service := permission.NewService(repository, repository, nil, nil)
	membership := permission.Membership{UserID: "u1", OrgID: "org-1", Roles: []string{"student"}}

	before, err := service.ResolveMembership(context.Background(), membership)
	require.NoError(t, err)
	assert.False(t, before.Set.Has("report.view"))

	updated := catalogue()
	updated.RoleBindings["student"] = append(updated.RoleBindings["student"], "report.view")
	repository.Publish(updated)

	after, err := service.ResolveMembership(context.Background(), membership)
	require.NoError(t, err)
	assert.True(t, after.Set.Has("report.view"))
}

/*
TestBuiltInSnapshot_RoleLadder checks the seeded bindings: only admins manage
security settings and students can view but not download.
*/
func TestBuiltInSnapshot_RoleLadder(t *testing.T) {
	repository := permission.NewMemoryRepository(permission.BuiltInSnapshot())
	for _, role := range []string{"admin", "manager", "trainer", "student"} {
		repository.SetMembership(permission.Membership{UserID: role, OrgID: "org-1", Roles: []string{role}})
	}
	service := permission.NewService(repository, repository, nil, nil)

	resolve := func(userID string) permission.Set {
		result, err := service.Resolve(context.Background(), "org-1", userID)
		require.NoError(t, err)
		return result.Set
	}

	admin := resolve("admin")
	assert.True(t, admin.HasAll("security.view", "security.manage", "content.view", "content.download"))

	manager := resolve("manager")
	assert.True(t, manager.Has("security.view"))
	assert.False(t, manager.Has("security.manage"))

	student := resolve("student")
	assert.Equal(t, []string{"content.view"}, student.Names())
	assert.True(t, admin.Contains(resolve("trainer")))
}
