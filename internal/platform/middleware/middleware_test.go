// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/platform/ctxutil"
	"github.com/taibuivan/warden/internal/platform/middleware"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// # Stubs

type stubVerifier struct {
	claims *sec.AuthClaims
}

func (v stubVerifier) VerifyToken(token string) (*sec.AuthClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return v.claims, nil
}

type stubResolver struct {
	calls atomic.Int32
	set   permission.Set
	err   error
}

func (r *stubResolver) ResolveMembership(context.Context, permission.Membership) (permission.Result, error) {
	r.calls.Add(1)
	return permission.Result{Set: r.set}, r.err
}

var ok = http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusNoContent)
})

func serve(handler http.Handler, token string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

// # Tests

/*
TestRequirePermission covers the allow, deny, anonymous and failure paths.
*/
func TestRequirePermission(t *testing.T) {
	verifier := stubVerifier{claims: &sec.AuthClaims{UserID: "u1", OrgID: "org-1", Roles: []string{"admin"}}}

	tests := []struct {
		name   string
		token  string
		set    permission.Set
		err    error
		status int
	}{
		{name: "granted", token: "good", set: permission.NewSet("security.manage"), status: http.StatusNoContent},
		{name: "missing permission", token: "good", set: permission.NewSet("security.view"), status: http.StatusForbidden},
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "invalid token", token: "forged", status: http.StatusUnauthorized},
		{name: "identity unavailable", token: "good", err: permission.ErrIdentityUnavailable, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{set: tt.set, err: tt.err}
			handler := middleware.Authenticate(verifier)(
				middleware.RequirePermission(resolver, "security.manage")(ok),
			)

			assert.Equal(t, tt.status, serve(handler, tt.token).Code)
		})
	}
}

/*
TestRequirePermission_ResolvesOncePerRequest stacks two checks on one request.
*/
func TestRequirePermission_ResolvesOncePerRequest(t *testing.T) {
	verifier := stubVerifier{claims: &sec.AuthClaims{UserID: "u1", OrgID: "org-1"}}
	resolver := &stubResolver{set: permission.NewSet("security.view", "security.manage")}

	handler := middleware.Authenticate(verifier)(
		middleware.RequirePermission(resolver, "security.view")(
			middleware.RequirePermission(resolver, "security.manage")(ok),
		),
	)

	require.Equal(t, http.StatusNoContent, serve(handler, "good").Code)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

/*
TestClientIP honours proxy headers only when trusted.
*/
func TestClientIP(t *testing.T) {
	var seen string
	capture := http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
		seen = middleware.RealIP(request)
	})

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.RemoteAddr = "198.51.100.7:5000"
	request.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")

	middleware.ClientIP(false)(capture).ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "198.51.100.7", seen)

	middleware.ClientIP(true)(capture).ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "203.0.113.10", seen)

	request.Header.Set("X-Real-IP", "not-an-ip")
	request.Header.Set("X-Forwarded-For", "<script>")
	middleware.ClientIP(true)(capture).ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "198.51.100.7", seen)
}

/*
TestRateLimit rejects requests beyond the burst.
*/
func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := middleware.RateLimit(ctx, 0.001, 2)(ok)

	assert.Equal(t, http.StatusNoContent, serve(handler, "").Code)
	assert.Equal(t, http.StatusNoContent, serve(handler, "").Code)

	limited := serve(handler, "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1000", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")
}

/*
TestPanicRecovery turns a panic into a 500 envelope.
*/
func TestPanicRecovery(t *testing.T) {
	handler := middleware.PanicRecovery(slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	recorder := serve(handler, "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "INTERNAL_ERROR")
}

/*
TestRequestID reuses a sane caller ID and replaces an oversized one.
*/
func TestRequestID(t *testing.T) {
	handler := middleware.RequestID()(ok)

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("X-Request-ID", "req-42")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, "req-42", recorder.Header().Get("X-Request-ID"))

	request.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Len(t, recorder.Header().Get("X-Request-ID"), 36)
}

/*
TestStructuredLogger writes one line per request at a status-derived level and
hands handlers the request-scoped logger.
*/
func TestStructuredLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buffer, nil))

	handler := middleware.RequestID()(middleware.StructuredLogger(logger)(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ctxutil.GetLogger(request.Context()).Info("inside_handler")
		writer.WriteHeader(http.StatusNotFound)
	})))

	request := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	request.Header.Set("X-Request-ID", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"msg":"inside_handler"`)
	assert.Contains(t, lines[0], `"request_id":"req-42"`)
	assert.Contains(t, lines[1], `"msg":"http_request_finished"`)
	assert.Contains(t, lines[1], `"level":"WARN"`)
	assert.Contains(t, lines[1], `"status":404`)
}
