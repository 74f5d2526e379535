// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package audit records security-relevant decisions.

Two append-only record types leave the access core:

  - [Event]: one SecurityAuditLog entry per admission step, device transition,
    IP rule change or settings update.
  - [ContentAccess]: one ContentAccessLog entry per content decision. Only the
    viewing duration may be filled in later, by the caller, when playback ends.

# Delivery

The [Emitter] fans every record out to its sinks synchronously. Delivery is
fire-and-forget from the caller's point of view: a failing sink is logged and
counted, and never reverses or blocks the decision the record describes.
*/
package audit

import "time"

// # Classification

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategorySession Category = "session"
	CategoryDevice  Category = "device"
	CategoryNetwork Category = "network"
	CategoryContent Category = "content"
	CategoryPolicy  Category = "policy"
	CategoryAccess  Category = "access"
)

// Severity ranks events for operator triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// # Event Types

const (
	EventAdmissionStep     = "session.admission_step"
	EventAdmissionDecision = "session.admission_decision"
	EventSessionEvicted    = "session.evicted"
	EventSessionEnded      = "session.ended"
	EventDeviceTrusted     = "device.trusted"
	EventDeviceBlocked     = "device.blocked"
	EventDeviceUnblocked   = "device.unblocked"
	EventIPRuleCreated     = "ip_rule.created"
	EventIPRuleDeleted     = "ip_rule.deleted"
	EventSettingsUpdated   = "settings.updated"
	EventContentDecision   = "content.access_decision"
)

// # Records

// Event is one immutable SecurityAuditLog entry.
type Event struct {
	ID                string         `json:"id"`
	EventType         string         `json:"event_type"`
	Category          Category       `json:"event_category"`
	Severity          Severity       `json:"severity"`
	UserID            string         `json:"user_id,omitempty"`
	OrgID             string         `json:"org_id,omitempty"`
	IPAddress         string         `json:"ip_address,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ContentAccess is one ContentAccessLog entry.
type ContentAccess struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	OrgID            string    `json:"org_id"`
	ContentID        string    `json:"content_id"`
	ContentType      string    `json:"content_type"`
	AccessType       string    `json:"access_type"`
	Allowed          bool      `json:"allowed"`
	Reason           string    `json:"reason,omitempty"`
	WatermarkApplied bool      `json:"watermark_applied"`
	DurationSeconds  *int      `json:"duration_seconds,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
