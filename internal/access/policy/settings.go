// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package policy owns the organisation-scoped security configuration.

# Records

  - [SecuritySettings]: one record per organisation. An organisation without a
    record is governed by [DefaultSettings], never by a mix of stored and
    default fields.
  - [IPRestriction]: allow or block rules on a single address or an inclusive
    range, optionally scoped to one user.

# Writes

Settings are written only through [Service.UpdateSettings], which applies a
partial [SettingsUpdate] atomically and returns the full record. Writers on the
same organisation are serialized; readers observe either the old or the new
full record.
*/
package policy

import (
	"errors"
	"slices"
	"time"

	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/platform/validate"
	"github.com/taibuivan/warden/pkg/pointer"
)

// # Errors

var (
	// ErrSettingsNotFound means the organisation has no persisted record yet.
	ErrSettingsNotFound = errors.New("policy: settings not found")

	// ErrSettingsUnavailable means the settings store could not be read.
	ErrSettingsUnavailable = errors.New("policy: settings unavailable")

	// ErrRuleNotFound is returned when an IP rule does not exist in the organisation.
	ErrRuleNotFound = errors.New("policy: ip rule not found")

	// ErrInvalidRule is returned for a rule whose addresses cannot be evaluated.
	ErrInvalidRule = errors.New("policy: invalid ip rule")
)

// # Protection Level

// ProtectionLevel controls how aggressively streamed media is protected.
type ProtectionLevel string

const (
	ProtectionNone     ProtectionLevel = "none"
	ProtectionStandard ProtectionLevel = "standard"
	ProtectionHigh     ProtectionLevel = "high"
)

// # Defaults

const (
	DefaultMaxConcurrentSessions = 3
	DefaultMaxDevicesPerUser     = 5
	DefaultSessionTimeoutMinutes = 480
	DefaultWatermarkTemplate     = "{{user_email}} - {{timestamp}}"

	maxWatermarkTemplateLength = 500
	maxSessionTimeoutMinutes   = 60 * 24 * 30
)

// # Settings Record

// SecuritySettings is the full security configuration of one organisation.
type SecuritySettings struct {
	OrgID                         string          `json:"org_id"`
	MaxConcurrentSessions         int             `json:"max_concurrent_sessions"`
	MaxDevicesPerUser             int             `json:"max_devices_per_user"`
	SessionTimeoutMinutes         int             `json:"session_timeout_minutes"`
	Enable2FA                     bool            `json:"enable_2fa"`
	Require2FAForRoles            []string        `json:"require_2fa_for_roles"`
	EnableIPRestriction           bool            `json:"enable_ip_restriction"`
	EnableDeviceRestriction       bool            `json:"enable_device_restriction"`
	EnableWatermark               bool            `json:"enable_watermark"`
	WatermarkTextTemplate         string          `json:"watermark_text_template"`
	EnableScreenCapturePrevention bool            `json:"enable_screen_capture_prevention"`
	EnableRightClickPrevention    bool            `json:"enable_right_click_prevention"`
	VideoProtectionLevel          ProtectionLevel `json:"video_protection_level"`
	DownloadRestrictionRoles      []string        `json:"download_restriction_roles"`

	// IsDefault is true when no record has been persisted for the organisation.
	IsDefault bool       `json:"is_default"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// DefaultSettings returns the fully populated record applied to an
// organisation that never saved its own.
func DefaultSettings(orgID string) SecuritySettings {
	return SecuritySettings{
		OrgID:                    orgID,
		MaxConcurrentSessions:    DefaultMaxConcurrentSessions,
		MaxDevicesPerUser:        DefaultMaxDevicesPerUser,
		SessionTimeoutMinutes:    DefaultSessionTimeoutMinutes,
		Require2FAForRoles:       []string{},
		WatermarkTextTemplate:    DefaultWatermarkTemplate,
		VideoProtectionLevel:     ProtectionStandard,
		DownloadRestrictionRoles: []string{},
		IsDefault:                true,
	}
}

// SessionTimeout returns the session lifetime granted at admission.
func (settings SecuritySettings) SessionTimeout() time.Duration {
	return time.Duration(settings.SessionTimeoutMinutes) * time.Minute
}

// RequiresSecondFactor reports whether any of roles must present a second factor.
func (settings SecuritySettings) RequiresSecondFactor(roles []string) bool {
	return settings.Enable2FA && containsAny(settings.Require2FAForRoles, roles)
}

// RestrictsDownload reports whether any of roles is barred from downloading.
func (settings SecuritySettings) RestrictsDownload(roles []string) bool {
	return containsAny(settings.DownloadRestrictionRoles, roles)
}

// Clone returns a deep copy, so callers can never alias the stored slices.
func (settings SecuritySettings) Clone() SecuritySettings {
	settings.Require2FAForRoles = slices.Clone(settings.Require2FAForRoles)
	settings.DownloadRestrictionRoles = slices.Clone(settings.DownloadRestrictionRoles)
	if settings.UpdatedAt != nil {
		settings.UpdatedAt = pointer.To(*settings.UpdatedAt)
	}
	return settings
}

// # Partial Update

// SettingsUpdate carries only the fields an administrator wants to change.
// A nil field keeps its current value.
type SettingsUpdate struct {
	MaxConcurrentSessions         *int             `json:"max_concurrent_sessions"`
	MaxDevicesPerUser             *int             `json:"max_devices_per_user"`
	SessionTimeoutMinutes         *int             `json:"session_timeout_minutes"`
	Enable2FA                     *bool            `json:"enable_2fa"`
	Require2FAForRoles            *[]string        `json:"require_2fa_for_roles"`
	EnableIPRestriction           *bool            `json:"enable_ip_restriction"`
	EnableDeviceRestriction       *bool            `json:"enable_device_restriction"`
	EnableWatermark               *bool            `json:"enable_watermark"`
	WatermarkTextTemplate         *string          `json:"watermark_text_template"`
	EnableScreenCapturePrevention *bool            `json:"enable_screen_capture_prevention"`
	EnableRightClickPrevention    *bool            `json:"enable_right_click_prevention"`
	VideoProtectionLevel          *ProtectionLevel `json:"video_protection_level"`
	DownloadRestrictionRoles      *[]string        `json:"download_restriction_roles"`
}

// Validate checks every field that is present.
func (update SettingsUpdate) Validate() error {
	validator := &validate.Validator{}

	if update.MaxConcurrentSessions != nil {
		validator.Range(FieldMaxConcurrentSessions, *update.MaxConcurrentSessions, 1, 1000)
	}
	if update.MaxDevicesPerUser != nil {
		validator.Range(FieldMaxDevicesPerUser, *update.MaxDevicesPerUser, 1, 1000)
	}
	if update.SessionTimeoutMinutes != nil {
		validator.Range(FieldSessionTimeoutMinutes, *update.SessionTimeoutMinutes, 1, maxSessionTimeoutMinutes)
	}
	if update.WatermarkTextTemplate != nil {
		validator.MaxLen(FieldWatermarkTextTemplate, *update.WatermarkTextTemplate, maxWatermarkTemplateLength)
	}
	if update.VideoProtectionLevel != nil {
		validator.OneOf(FieldVideoProtectionLevel, string(*update.VideoProtectionLevel),
			string(ProtectionNone), string(ProtectionStandard), string(ProtectionHigh))
	}

	return validator.Err()
}

// IsEmpty reports whether the update changes nothing.
func (update SettingsUpdate) IsEmpty() bool {
	return len(update.ChangedFields()) == 0
}

// ChangedFields lists the JSON names of every field present in the update.
func (update SettingsUpdate) ChangedFields() []string {
	var fields []string
	add := func(present bool, name string) {
		if present {
			fields = append(fields, name)
		}
	}

	add(update.MaxConcurrentSessions != nil, FieldMaxConcurrentSessions)
	add(update.MaxDevicesPerUser != nil, FieldMaxDevicesPerUser)
	add(update.SessionTimeoutMinutes != nil, FieldSessionTimeoutMinutes)
	add(update.Enable2FA != nil, "enable_2fa")
	add(update.Require2FAForRoles != nil, "require_2fa_for_roles")
	add(update.EnableIPRestriction != nil, "enable_ip_restriction")
	add(update.EnableDeviceRestriction != nil, "enable_device_restriction")
	add(update.EnableWatermark != nil, "enable_watermark")
	add(update.WatermarkTextTemplate != nil, FieldWatermarkTextTemplate)
	add(update.EnableScreenCapturePrevention != nil, "enable_screen_capture_prevention")
	add(update.EnableRightClickPrevention != nil, "enable_right_click_prevention")
	add(update.VideoProtectionLevel != nil, FieldVideoProtectionLevel)
	add(update.DownloadRestrictionRoles != nil, "download_restriction_roles")

	return fields
}

// Apply returns current with every present field overwritten.
func (update SettingsUpdate) Apply(current SecuritySettings) SecuritySettings {
	next := current.Clone()

	next.MaxConcurrentSessions = pointer.Fallback(update.MaxConcurrentSessions, next.MaxConcurrentSessions)
	next.MaxDevicesPerUser = pointer.Fallback(update.MaxDevicesPerUser, next.MaxDevicesPerUser)
	next.SessionTimeoutMinutes = pointer.Fallback(update.SessionTimeoutMinutes, next.SessionTimeoutMinutes)
	next.Enable2FA = pointer.Fallback(update.Enable2FA, next.Enable2FA)
	next.EnableIPRestriction = pointer.Fallback(update.EnableIPRestriction, next.EnableIPRestriction)
	next.EnableDeviceRestriction = pointer.Fallback(update.EnableDeviceRestriction, next.EnableDeviceRestriction)
	next.EnableWatermark = pointer.Fallback(update.EnableWatermark, next.EnableWatermark)
	next.WatermarkTextTemplate = pointer.Fallback(update.WatermarkTextTemplate, next.WatermarkTextTemplate)
	next.EnableScreenCapturePrevention = pointer.Fallback(update.EnableScreenCapturePrevention, next.EnableScreenCapturePrevention)
	next.EnableRightClickPrevention = pointer.Fallback(update.EnableRightClickPrevention, next.EnableRightClickPrevention)
	next.VideoProtectionLevel = pointer.Fallback(update.VideoProtectionLevel, next.VideoProtectionLevel)

	if update.Require2FAForRoles != nil {
		next.Require2FAForRoles = normalizeRoles(*update.Require2FAForRoles)
	}
	if update.DownloadRestrictionRoles != nil {
		next.DownloadRestrictionRoles = normalizeRoles(*update.DownloadRestrictionRoles)
	}

	next.IsDefault = false
	return next
}

// # Field Names

const (
	FieldMaxConcurrentSessions = "max_concurrent_sessions"
	FieldMaxDevicesPerUser     = "max_devices_per_user"
	FieldSessionTimeoutMinutes = "session_timeout_minutes"
	FieldWatermarkTextTemplate = "watermark_text_template"
	FieldVideoProtectionLevel  = "video_protection_level"
	FieldIPAddress             = "ip_address"
	FieldIPRangeEnd            = "ip_range_end"
	FieldAction                = "action"
)

// # Role Lists

// normalizeRoles folds and de-duplicates a role list entered by an administrator.
func normalizeRoles(roles []string) []string {
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		role = permission.Normalize(role)
		if role != "" && !slices.Contains(normalized, role) {
			normalized = append(normalized, role)
		}
	}
	slices.Sort(normalized)
	return normalized
}

// containsAny reports whether configured and held share at least one role.
func containsAny(configured, held []string) bool {
	for _, role := range held {
		role = permission.Normalize(role)
		for _, candidate := range configured {
			if permission.Normalize(candidate) == role {
				return true
			}
		}
	}
	return false
}
