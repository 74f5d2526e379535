// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/validate"
)

// # Content Model

// Content types that receive a watermark when streamed.
const (
	ContentVideo = "video"
	ContentAudio = "audio"
)

// Access types.
const (
	AccessView     = "view"
	AccessStream   = "stream"
	AccessDownload = "download"
)

// ContentMeta describes the resource being opened.
type ContentMeta struct {
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	AccessType  string `json:"access_type"`
}

// Viewer is the principal opening the content.
type Viewer struct {
	UserID string
	OrgID  string
	Email  string
	Name   string
	Roles  []string
}

// AccessContext carries request facts used by the watermark.
type AccessContext struct {
	IPAddress string
}

// ContentDecision is the outcome of a content access check.
type ContentDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`

	Watermark     bool   `json:"watermark"`
	WatermarkText string `json:"watermark_text,omitempty"`

	ProtectionLevel      policy.ProtectionLevel `json:"protection_level"`
	PreventScreenCapture bool                   `json:"prevent_screen_capture"`
	PreventRightClick    bool                   `json:"prevent_right_click"`

	// AccessLogID identifies the ContentAccessLog entry for a later duration update.
	AccessLogID string `json:"access_log_id"`
}

/*
CanAccessContent decides whether viewer may open content and how it is protected.

Description: A role listed in download_restriction_roles can never download.
Streamed video and audio carry a rendered watermark when watermarking is on and
the protection level is not none. Every decision, allowed or not, is written to
the content access log.

Parameters:
  - ctx: context.Context
  - viewer: Viewer
  - meta: ContentMeta
  - access: AccessContext

Returns:
  - ContentDecision
  - error: Validation errors, or a settings failure (decision is a denial)
*/
func (guard *Guard) CanAccessContent(ctx context.Context, viewer Viewer, meta ContentMeta, access AccessContext) (ContentDecision, error) {
	meta.ContentType = strings.ToLower(strings.TrimSpace(meta.ContentType))
	meta.AccessType = strings.ToLower(strings.TrimSpace(meta.AccessType))
	if meta.AccessType == "" {
		meta.AccessType = AccessView
	}

	validator := &validate.Validator{}
	validator.Required("user_id", viewer.UserID)
	validator.Required("content_id", meta.ContentID)
	validator.Required("content_type", meta.ContentType)
	validator.OneOf("access_type", meta.AccessType, AccessView, AccessStream, AccessDownload)
	if err := validator.Err(); err != nil {
		return ContentDecision{}, err
	}

	settings, err := guard.settings.GetSettings(ctx, viewer.OrgID)
	if err != nil {
		if ctx.Err() != nil {
			return ContentDecision{}, ctx.Err()
		}
		decision := ContentDecision{Reason: ReasonDependencyFailure}
		decision.AccessLogID = guard.logContentDecision(ctx, viewer, meta, access, decision)
		return decision, apperr.DependencyFailure("settings", err)
	}

	now := guard.now().UTC()
	decision := decideContent(settings, viewer, meta, access, now)
	decision.AccessLogID = guard.logContentDecision(ctx, viewer, meta, access, decision)
	return decision, nil
}

// decideContent is the pure content policy.
func decideContent(settings policy.SecuritySettings, viewer Viewer, meta ContentMeta, access AccessContext, now time.Time) ContentDecision {
	if meta.AccessType == AccessDownload && settings.RestrictsDownload(viewer.Roles) {
		return ContentDecision{Reason: ReasonDownloadRestricted, ProtectionLevel: settings.VideoProtectionLevel}
	}

	level := settings.VideoProtectionLevel
	decision := ContentDecision{
		Allowed:              true,
		ProtectionLevel:      level,
		PreventScreenCapture: level == policy.ProtectionHigh || settings.EnableScreenCapturePrevention,
		PreventRightClick:    level == policy.ProtectionHigh || settings.EnableRightClickPrevention,
	}

	streamed := meta.AccessType != AccessDownload && (meta.ContentType == ContentVideo || meta.ContentType == ContentAudio)
	if settings.EnableWatermark && level != policy.ProtectionNone && streamed {
		decision.Watermark = true
		decision.WatermarkText = RenderWatermark(settings.WatermarkTextTemplate, WatermarkValues{
			UserEmail: viewer.Email,
			UserID:    viewer.UserID,
			UserName:  viewer.Name,
			IPAddress: access.IPAddress,
			At:        now,
		})
	}

	return decision
}

func (guard *Guard) logContentDecision(ctx context.Context, viewer Viewer, meta ContentMeta, access AccessContext, decision ContentDecision) string {
	guard.metrics.ContentDecision(decision.Allowed, decision.Watermark)
	if !decision.Allowed {
		guard.logger.InfoContext(ctx, "content_access_denied",
			slog.String("user_id", viewer.UserID),
			slog.String("content_id", meta.ContentID),
			slog.String("reason", string(decision.Reason)),
		)
	}

	return guard.emitter.EmitContentAccess(ctx, audit.ContentAccess{
		UserID:           viewer.UserID,
		OrgID:            viewer.OrgID,
		ContentID:        meta.ContentID,
		ContentType:      meta.ContentType,
		AccessType:       meta.AccessType,
		Allowed:          decision.Allowed,
		Reason:           string(decision.Reason),
		WatermarkApplied: decision.Watermark,
		IPAddress:        access.IPAddress,
	})
}

// RecordViewingDuration fills in the duration of a content access once playback ends.
// Only the user the entry was logged for may set it.
func (guard *Guard) RecordViewingDuration(ctx context.Context, userID, accessLogID string, seconds int) error {
	return guard.emitter.RecordDuration(ctx, userID, accessLogID, seconds)
}
