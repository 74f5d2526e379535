// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/guard"
	"github.com/taibuivan/warden/internal/access/policy"
)

func viewer(roles ...string) guard.Viewer {
	return guard.Viewer{
		UserID: "u1",
		OrgID:  "org-1",
		Email:  "ana@example.com",
		Name:   "Ana",
		Roles:  roles,
	}
}

/*
TestRenderWatermark covers every placeholder and leaves unknown ones alone.
*/
func TestRenderWatermark(t *testing.T) {
	values := guard.WatermarkValues{
		UserEmail: "ana@example.com",
		UserID:    "u1",
		UserName:  "Ana",
		IPAddress: "203.0.113.10",
		At:        time.Date(2026, 3, 1, 17, 4, 5, 0, time.FixedZone("ICT", 7*3600)),
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "default", template: policy.DefaultWatermarkTemplate, want: "ana@example.com - 2026-03-01 10:04:05"},
		{name: "all fields", template: "{{user_name}} {{user_id}} {{ip}} {{date}}", want: "Ana u1 203.0.113.10 2026-03-01"},
		{name: "unknown placeholder", template: "{{org}} {{user_id}}", want: "{{org}} u1"},
		{name: "plain text", template: "CONFIDENTIAL", want: "CONFIDENTIAL"},
		{name: "repeated", template: "{{user_id}}/{{user_id}}", want: "u1/u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.RenderWatermark(tt.template, values))
		})
	}
}

/*
TestCanAccessContent_Decisions is a table over the content policy.
*/
func TestCanAccessContent_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		settings func(*policy.SecuritySettings)
		roles    []string
		meta     guard.ContentMeta

		allowed       bool
		reason        guard.Reason
		watermark     bool
		screenCapture bool
		rightClick    bool
	}{
		{
			name:    "restricted role cannot download",
			roles:   []string{"Student"},
			meta:    guard.ContentMeta{ContentID: "c1", ContentType: "video", AccessType: "download"},
			reason:  guard.ReasonDownloadRestricted,
			allowed: false,
		},
		{
			name:    "other role may download",
			roles:   []string{"trainer"},
			meta:    guard.ContentMeta{ContentID: "c1", ContentType: "video", AccessType: "download"},
			allowed: true,
		},
		{
			name:      "restricted role may still stream with watermark",
			roles:     []string{"student"},
			meta:      guard.ContentMeta{ContentID: "c1", ContentType: "video", AccessType: "stream"},
			allowed:   true,
			watermark: true,
		},
		{
			name:      "audio is watermarked",
			roles:     []string{"trainer"},
			meta:      guard.ContentMeta{ContentID: "c2", ContentType: "AUDIO"},
			allowed:   true,
			watermark: true,
		},
		{
			name:    "documents are not watermarked",
			roles:   []string{"trainer"},
			meta:    guard.ContentMeta{ContentID: "c3", ContentType: "document"},
			allowed: true,
		},
		{
			name: "protection none disables the watermark",
			settings: func(s *policy.SecuritySettings) {
				s.VideoProtectionLevel = policy.ProtectionNone
			},
			roles:   []string{"trainer"},
			meta:    guard.ContentMeta{ContentID: "c1", ContentType: "video"},
			allowed: true,
		},
		{
			name: "high protection forces client flags",
			settings: func(s *policy.SecuritySettings) {
				s.VideoProtectionLevel = policy.ProtectionHigh
			},
			roles:         []string{"trainer"},
			meta:          guard.ContentMeta{ContentID: "c1", ContentType: "video"},
			allowed:       true,
			watermark:     true,
			screenCapture: true,
			rightClick:    true,
		},
		{
			name: "flags follow settings at standard level",
			settings: func(s *policy.SecuritySettings) {
				s.EnableRightClickPrevention = true
			},
			roles:      []string{"trainer"},
			meta:       guard.ContentMeta{ContentID: "c3", ContentType: "document"},
			allowed:    true,
			rightClick: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, guard.Options{}, nil)
			f.settings.update(func(s *policy.SecuritySettings) {
				s.EnableWatermark = true
				s.DownloadRestrictionRoles = []string{"student"}
				if tt.settings != nil {
					tt.settings(s)
				}
			})

			decision, err := f.guard.CanAccessContent(context.Background(), viewer(tt.roles...), tt.meta, guard.AccessContext{IPAddress: "203.0.113.10"})
			require.NoError(t, err)

			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.Equal(t, tt.watermark, decision.Watermark)
			assert.Equal(t, tt.screenCapture, decision.PreventScreenCapture)
			assert.Equal(t, tt.rightClick, decision.PreventRightClick)
			if tt.watermark {
				assert.Equal(t, "ana@example.com - 2026-03-01 10:00:00", decision.WatermarkText)
			} else {
				assert.Empty(t, decision.WatermarkText)
			}
			assert.NotEmpty(t, decision.AccessLogID)
		})
	}
}

/*
TestCanAccessContent_LogsAndDuration checks that every decision is logged and
that the viewing duration can be attached later.
*/
func TestCanAccessContent_LogsAndDuration(t *testing.T) {
	f := newFixture(t, guard.Options{}, nil)
	ctx := context.Background()

	decision, err := f.guard.CanAccessContent(ctx, viewer("trainer"), guard.ContentMeta{ContentID: "c1", ContentType: "video"}, guard.AccessContext{})
	require.NoError(t, err)

	entries := f.audit.ContentAccesses()
	require.Len(t, entries, 1)
	assert.Equal(t, decision.AccessLogID, entries[0].ID)
	assert.Equal(t, guard.AccessView, entries[0].AccessType)
	assert.Nil(t, entries[0].DurationSeconds)

	owner := entries[0].UserID
	err = f.guard.RecordViewingDuration(ctx, "someone-else", decision.AccessLogID, 30)
	assert.ErrorIs(t, err, audit.ErrContentAccessNotFound)
	assert.Nil(t, f.audit.ContentAccesses()[0].DurationSeconds)

	require.NoError(t, f.guard.RecordViewingDuration(ctx, owner, decision.AccessLogID, 95))
	entries = f.audit.ContentAccesses()
	require.NotNil(t, entries[0].DurationSeconds)
	assert.Equal(t, 95, *entries[0].DurationSeconds)

	assert.Error(t, f.guard.RecordViewingDuration(ctx, owner, "missing", 10))
	assert.Error(t, f.guard.RecordViewingDuration(ctx, owner, decision.AccessLogID, -1))
}

/*
TestCanAccessContent_Failures covers validation and an unavailable settings store.
*/
func TestCanAccessContent_Failures(t *testing.T) {
	f := newFixture(t, guard.Options{}, nil)
	ctx := context.Background()

	_, err := f.guard.CanAccessContent(ctx, viewer(), guard.ContentMeta{ContentType: "video"}, guard.AccessContext{})
	require.Error(t, err)

	_, err = f.guard.CanAccessContent(ctx, viewer(), guard.ContentMeta{ContentID: "c1", ContentType: "video", AccessType: "print"}, guard.AccessContext{})
	require.Error(t, err)

	f.settings.err = errors.New("timeout")
	decision, err := f.guard.CanAccessContent(ctx, viewer(), guard.ContentMeta{ContentID: "c1", ContentType: "video"}, guard.AccessContext{})
	require.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, guard.ReasonDependencyFailure, decision.Reason)
	assert.Len(t, f.audit.ContentAccesses(), 1, "a failed decision is still logged")
}
