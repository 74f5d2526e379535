// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/guard"
)

/*
TestDevice_Transitions walks the device state machine, including the rejected moves.
*/
func TestDevice_Transitions(t *testing.T) {
	f := newFixture(t, guard.Options{}, nil)
	ctx := context.Background()

	_, err := f.guard.TrustDevice(ctx, "admin-1", "u1", "laptop")
	require.ErrorIs(t, err, guard.ErrDeviceNotFound)

	require.True(t, f.admit(t, "u1", "laptop").Allowed)

	device, err := f.guard.TrustDevice(ctx, "admin-1", "u1", "laptop")
	require.NoError(t, err)
	assert.Equal(t, guard.DeviceTrusted, device.State())

	device, err = f.guard.TrustDevice(ctx, "admin-1", "u1", "laptop")
	require.NoError(t, err, "trusting a trusted device is a no-op")
	assert.Equal(t, guard.DeviceTrusted, device.State())

	device, err = f.guard.BlockDevice(ctx, "admin-1", "u1", "laptop", "reported stolen")
	require.NoError(t, err)
	assert.Equal(t, guard.DeviceBlocked, device.State())
	assert.False(t, device.IsTrusted)
	require.NotNil(t, device.BlockedReason)
	assert.Equal(t, "reported stolen", *device.BlockedReason)
	assert.NotNil(t, device.BlockedAt)

	_, err = f.guard.TrustDevice(ctx, "admin-1", "u1", "laptop")
	require.ErrorIs(t, err, guard.ErrInvalidTransition)

	device, err = f.guard.UnblockDevice(ctx, "admin-1", "u1", "laptop")
	require.NoError(t, err)
	assert.Equal(t, guard.DeviceSeen, device.State(), "unblock never restores trust")
	assert.Nil(t, device.BlockedAt)

	_, err = f.guard.UnblockDevice(ctx, "admin-1", "u1", "laptop")
	require.ErrorIs(t, err, guard.ErrInvalidTransition)

	assert.Len(t, f.audit.EventsOfType(audit.EventDeviceTrusted), 2)
	assert.Len(t, f.audit.EventsOfType(audit.EventDeviceBlocked), 1)
	assert.Len(t, f.audit.EventsOfType(audit.EventDeviceUnblocked), 1)
}

/*
TestDevice_BlockUnseen pre-emptively blocks a fingerprint that never logged in.
*/
func TestDevice_BlockUnseen(t *testing.T) {
	f := newFixture(t, guard.Options{}, nil)
	ctx := context.Background()

	device, err := f.guard.BlockDevice(ctx, "admin-1", "u1", "stolen-phone", "")
	require.NoError(t, err)
	assert.Equal(t, guard.DeviceBlocked, device.State())
	assert.Nil(t, device.BlockedReason)

	decision := f.admit(t, "u1", "stolen-phone")
	assert.Equal(t, guard.ReasonDeviceBlocked, decision.Reason)

	devices, err := f.guard.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

/*
TestDevice_StateOfNil covers the derived UNSEEN state.
*/
func TestDevice_StateOfNil(t *testing.T) {
	var device *guard.Device
	assert.Equal(t, guard.DeviceUnseen, device.State())
}
