// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/pkg/pointer"
)

// # Device State Machine

// DeviceState is derived from a device record; it is never stored.
type DeviceState string

const (
	DeviceUnseen  DeviceState = "unseen"
	DeviceSeen    DeviceState = "seen"
	DeviceTrusted DeviceState = "trusted"
	DeviceBlocked DeviceState = "blocked"
)

// Device is the DeviceRestriction record of one (user, fingerprint) pair.
// Fingerprints are best effort and spoofable.
type Device struct {
	UserID        string     `json:"user_id"`
	Fingerprint   string     `json:"device_fingerprint"`
	IsTrusted     bool       `json:"is_trusted"`
	IsBlocked     bool       `json:"is_blocked"`
	BlockedReason *string    `json:"blocked_reason,omitempty"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
}

// State reports the device state. Blocked wins over trusted.
func (device *Device) State() DeviceState {
	switch {
	case device == nil:
		return DeviceUnseen
	case device.IsBlocked:
		return DeviceBlocked
	case device.IsTrusted:
		return DeviceTrusted
	default:
		return DeviceSeen
	}
}

// trust moves SEEN to TRUSTED. TRUSTED stays TRUSTED.
func (device *Device) trust() error {
	switch device.State() {
	case DeviceUnseen:
		return ErrDeviceNotFound
	case DeviceBlocked:
		return fmt.Errorf("%w: a blocked device must be unblocked first", ErrInvalidTransition)
	}
	device.IsTrusted = true
	return nil
}

// block moves any state to BLOCKED.
func (device *Device) block(reason string, now time.Time) {
	device.IsBlocked = true
	device.IsTrusted = false
	device.BlockedAt = pointer.To(now)
	device.BlockedReason = nil
	if reason = strings.TrimSpace(reason); reason != "" {
		device.BlockedReason = pointer.To(reason)
	}
}

// unblock moves BLOCKED back to SEEN, never directly to TRUSTED.
func (device *Device) unblock() error {
	switch device.State() {
	case DeviceUnseen:
		return ErrDeviceNotFound
	case DeviceBlocked:
		device.IsBlocked = false
		device.IsTrusted = false
		device.BlockedReason = nil
		device.BlockedAt = nil
		return nil
	default:
		return fmt.Errorf("%w: device is not blocked", ErrInvalidTransition)
	}
}

// # Administrative Transitions

// DeviceAction names an administrative device transition.
type DeviceAction string

const (
	DeviceActionTrust   DeviceAction = "trust"
	DeviceActionBlock   DeviceAction = "block"
	DeviceActionUnblock DeviceAction = "unblock"
)

// TrustDevice marks a known device as trusted.
func (guard *Guard) TrustDevice(ctx context.Context, actorID, userID, fingerprint string) (*Device, error) {
	return guard.transition(ctx, actorID, userID, fingerprint, DeviceActionTrust, "")
}

// BlockDevice blocks a device, creating the record if it was never seen, and
// ends every active session opened from it.
func (guard *Guard) BlockDevice(ctx context.Context, actorID, userID, fingerprint, reason string) (*Device, error) {
	return guard.transition(ctx, actorID, userID, fingerprint, DeviceActionBlock, reason)
}

// UnblockDevice returns a blocked device to the seen state.
func (guard *Guard) UnblockDevice(ctx context.Context, actorID, userID, fingerprint string) (*Device, error) {
	return guard.transition(ctx, actorID, userID, fingerprint, DeviceActionUnblock, "")
}

// ListDevices returns every device known for userID.
func (guard *Guard) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	state, err := guard.repository.LoadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Devices, nil
}

/*
transition applies one administrative device action under the user's lock.

Parameters:
  - ctx: context.Context
  - actorID: string (administrator, for the audit trail)
  - userID, fingerprint: string
  - action: DeviceAction
  - reason: string (block only)

Returns:
  - *Device: The record after the transition
  - error: ErrDeviceNotFound, ErrInvalidTransition or storage failures
*/
func (guard *Guard) transition(ctx context.Context, actorID, userID, fingerprint string, action DeviceAction, reason string) (*Device, error) {
	fingerprint = strings.TrimSpace(fingerprint)

	unlock, err := guard.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := guard.repository.LoadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := guard.now().UTC()
	device := state.device(fingerprint)
	if device == nil && action == DeviceActionBlock {
		device = &Device{UserID: userID, Fingerprint: fingerprint, FirstSeenAt: now, LastSeenAt: now}
	}

	changes := Changes{}
	var eventType string

	switch action {
	case DeviceActionTrust:
		eventType = audit.EventDeviceTrusted
		err = device.trust()
	case DeviceActionUnblock:
		eventType = audit.EventDeviceUnblocked
		err = device.unblock()
	case DeviceActionBlock:
		eventType = audit.EventDeviceBlocked
		device.block(reason, now)
		for _, session := range state.Sessions {
			if session.DeviceFingerprint == fingerprint {
				changes.Deactivate = append(changes.Deactivate, session.ID)
			}
		}
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if err != nil {
		return nil, err
	}

	changes.Device = device
	if err := guard.repository.Apply(ctx, userID, changes); err != nil {
		return nil, err
	}

	severity := audit.SeverityInfo
	if action == DeviceActionBlock {
		severity = audit.SeverityWarning
	}
	metadata := map[string]any{"actor_id": actorID, "state": device.State()}
	if len(changes.Deactivate) > 0 {
		metadata["ended_sessions"] = len(changes.Deactivate)
	}
	if device.BlockedReason != nil {
		metadata["blocked_reason"] = *device.BlockedReason
	}

	guard.emitter.Emit(ctx, audit.Event{
		EventType:         eventType,
		Category:          audit.CategoryDevice,
		Severity:          severity,
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		Metadata:          metadata,
	})
	guard.logger.InfoContext(ctx, "device_transition",
		slog.String("user_id", userID),
		slog.String("action", string(action)),
		slog.String("actor_id", actorID),
	)

	return device, nil
}
