// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/pkg/pointer"
)

// brokenSettings simulates an unreachable settings store.
type brokenSettings struct{}

func (brokenSettings) FindSettings(context.Context, string) (*policy.SecuritySettings, error) {
	return nil, errors.New("connection reset")
}

func (brokenSettings) MutateSettings(context.Context, string, policy.MutateFunc) (*policy.SecuritySettings, error) {
	return nil, errors.New("connection reset")
}

func newService(t *testing.T) (*policy.Service, *audit.MemoryStore) {
	t.Helper()

	repository := policy.NewMemoryRepository()
	store := audit.NewMemoryStore()
	emitter := audit.NewEmitter(nil, nil, []audit.Sink{store}, nil)
	return policy.NewService(repository, repository, nil, emitter, nil), store
}

/*
TestGetSettings_DefaultWhenMissing verifies an unconfigured org receives the full default.
*/
func TestGetSettings_DefaultWhenMissing(t *testing.T) {
	service, _ := newService(t)

	settings, err := service.GetSettings(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultSettings("org-1"), settings)
	assert.True(t, settings.IsDefault)
}

/*
TestGetSettings_StoreFailure ensures a broken store is an error, never a silent default.
*/
func TestGetSettings_StoreFailure(t *testing.T) {
	service := policy.NewService(brokenSettings{}, policy.NewMemoryRepository(), nil, nil, nil)

	_, err := service.GetSettings(context.Background(), "org-1")
	assert.ErrorIs(t, err, policy.ErrSettingsUnavailable)
}

/*
TestUpdateSettings_PartialUpsert checks the lazy insert and that only the named
fields change.
*/
func TestUpdateSettings_PartialUpsert(t *testing.T) {
	service, store := newService(t)
	ctx := context.Background()

	updated, err := service.UpdateSettings(ctx, "org-1", "admin-1", policy.SettingsUpdate{
		MaxConcurrentSessions: pointer.To(1),
		Require2FAForRoles:    pointer.To([]string{"Admin", "admin", " trainer "}),
	})
	require.NoError(t, err)

	expected := policy.DefaultSettings("org-1")
	assert.Equal(t, 1, updated.MaxConcurrentSessions)
	assert.Equal(t, []string{"admin", "trainer"}, updated.Require2FAForRoles)
	assert.Equal(t, expected.MaxDevicesPerUser, updated.MaxDevicesPerUser)
	assert.Equal(t, expected.WatermarkTextTemplate, updated.WatermarkTextTemplate)
	assert.False(t, updated.IsDefault)
	assert.NotNil(t, updated.UpdatedAt)

	second, err := service.UpdateSettings(ctx, "org-1", "admin-1", policy.SettingsUpdate{
		EnableWatermark: pointer.To(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.MaxConcurrentSessions)
	assert.True(t, second.EnableWatermark)

	read, err := service.GetSettings(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, second, read)

	events := store.EventsOfType(audit.EventSettingsUpdated)
	require.Len(t, events, 2)
	assert.Equal(t, "admin-1", events[0].UserID)
	assert.Equal(t, policy.DefaultMaxConcurrentSessions, events[0].Metadata["previous_max_concurrent_sessions"])
}

/*
TestUpdateSettings_InvalidIsNeverApplied ensures a rejected update leaves no record behind.
*/
func TestUpdateSettings_InvalidIsNeverApplied(t *testing.T) {
	service, store := newService(t)
	ctx := context.Background()

	_, err := service.UpdateSettings(ctx, "org-1", "admin-1", policy.SettingsUpdate{
		EnableWatermark:       pointer.To(true),
		MaxConcurrentSessions: pointer.To(0),
	})
	require.Error(t, err)

	settings, err := service.GetSettings(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, settings.IsDefault)
	assert.False(t, settings.EnableWatermark)
	assert.Empty(t, store.Events())

	level := policy.ProtectionLevel("extreme")
	_, err = service.UpdateSettings(ctx, "org-1", "admin-1", policy.SettingsUpdate{VideoProtectionLevel: &level})
	assert.Error(t, err)
}

/*
TestUpdateSettings_ConcurrentWritersNeverLoseFields runs writers on disjoint
fields in parallel; every field must survive.
*/
func TestUpdateSettings_ConcurrentWritersNeverLoseFields(t *testing.T) {
	service, _ := newService(t)
	ctx := context.Background()

	updates := []policy.SettingsUpdate{
		{MaxConcurrentSessions: pointer.To(7)},
		{MaxDevicesPerUser: pointer.To(9)},
		{EnableWatermark: pointer.To(true)},
		{Enable2FA: pointer.To(true)},
		{EnableIPRestriction: pointer.To(true)},
		{SessionTimeoutMinutes: pointer.To(60)},
	}

	var wg sync.WaitGroup
	for _, update := range updates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.UpdateSettings(ctx, "org-1", "admin-1", update)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	settings, err := service.GetSettings(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 7, settings.MaxConcurrentSessions)
	assert.Equal(t, 9, settings.MaxDevicesPerUser)
	assert.Equal(t, 60, settings.SessionTimeoutMinutes)
	assert.True(t, settings.EnableWatermark)
	assert.True(t, settings.Enable2FA)
	assert.True(t, settings.EnableIPRestriction)
}

/*
TestIPRules_Lifecycle covers add, list, evaluate and remove.
*/
func TestIPRules_Lifecycle(t *testing.T) {
	service, store := newService(t)
	ctx := context.Background()

	blockRule := &policy.IPRestriction{OrgID: "org-1", IPAddress: " 203.0.113.7 ", Action: policy.ActionBlock, CreatedBy: "admin-1"}
	require.NoError(t, service.AddIPRule(ctx, blockRule))
	assert.NotEmpty(t, blockRule.ID)
	assert.Equal(t, "203.0.113.7", blockRule.IPAddress)

	rules, err := service.ListIPRules(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)

	verdict, err := service.EvaluateIP(ctx, "org-1", "u1", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, verdict.Blocked)

	require.NoError(t, service.RemoveIPRule(ctx, "org-1", blockRule.ID, "admin-1"))
	assert.ErrorIs(t, service.RemoveIPRule(ctx, "org-1", blockRule.ID, "admin-1"), policy.ErrRuleNotFound)
	assert.ErrorIs(t, service.RemoveIPRule(ctx, "org-1", "not-a-uuid", "admin-1"), policy.ErrRuleNotFound)

	verdict, err = service.EvaluateIP(ctx, "org-1", "u1", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, verdict.Blocked)

	assert.Len(t, store.EventsOfType(audit.EventIPRuleCreated), 1)
	assert.Len(t, store.EventsOfType(audit.EventIPRuleDeleted), 1)

	assert.Error(t, service.AddIPRule(ctx, &policy.IPRestriction{OrgID: "org-1", IPAddress: "bogus", Action: policy.ActionBlock}))
}
