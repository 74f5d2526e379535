// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ctxutil_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/platform/ctxutil"
	"github.com/taibuivan/warden/internal/platform/sec"
)

/*
TestContext_ZeroValues checks the getters on a bare context.
*/
func TestContext_ZeroValues(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, ctxutil.GetRequestID(ctx))
	assert.Empty(t, ctxutil.GetClientIP(ctx))
	assert.Nil(t, ctxutil.GetAuthUser(ctx))
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))
}

/*
TestContext_RoundTrip stores every per-request value on one context.
*/
func TestContext_RoundTrip(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	claims := &sec.AuthClaims{UserID: "user-123", OrgID: "org-9", Roles: []string{"admin"}}

	ctx := ctxutil.WithRequestID(context.Background(), "req-1")
	ctx = ctxutil.WithClientIP(ctx, "203.0.113.10")
	ctx = ctxutil.WithLogger(ctx, logger)
	ctx = ctxutil.WithAuthUser(ctx, claims)

	assert.Equal(t, "req-1", ctxutil.GetRequestID(ctx))
	assert.Equal(t, "203.0.113.10", ctxutil.GetClientIP(ctx))
	assert.Same(t, logger, ctxutil.GetLogger(ctx))

	retrieved := ctxutil.GetAuthUser(ctx)
	require.NotNil(t, retrieved)
	assert.Equal(t, "org-9", retrieved.OrgID)
	assert.Equal(t, []string{"admin"}, retrieved.Roles)
}

/*
TestContext_NilLogger falls back to the default logger.
*/
func TestContext_NilLogger(t *testing.T) {
	ctx := ctxutil.WithLogger(context.Background(), nil)
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))
}
