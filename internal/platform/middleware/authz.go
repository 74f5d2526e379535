// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/constants"
	"github.com/taibuivan/warden/internal/platform/ctxutil"
	"github.com/taibuivan/warden/internal/platform/respond"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// Defining it here decouples the middleware from [sec.TokenService] so tests
// can inject a stub.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// PermissionResolver resolves the effective set of an authenticated principal.
type PermissionResolver interface {
	ResolveMembership(ctx context.Context, membership permission.Membership) (permission.Result, error)
}

// Authenticate extracts and verifies the JWT from the Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, request proceeds as anonymous.
//  3. If present, parse and verify the JWT via [TokenVerifier].
//  4. Inject [*sec.AuthClaims] into the request context for downstream use.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get(constants.HeaderAuthorization)

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != constants.AuthorizationBearerScheme {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Token Verification ─────────────────────────────────────────
			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				respond.Error(writer, request, apperr.Unauthorized("Invalid or expired token"))
				return
			}

			// ── 4. Context Injection ──────────────────────────────────────────
			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			ctx = ctxutil.WithLogger(ctx, ctxutil.GetLogger(ctx).With(slog.String("user_id", claims.UserID)))
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// Must be registered in the router AFTER [Authenticate].
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetAuthUser(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

/*
RequirePermission blocks requests whose principal lacks any of names.

Description: The caller's effective set is resolved once per request and
cached in the context, so stacked checks never resolve twice. It implies
[RequireAuth]. A resolution failure is a 503, never a 403: an unknown
identity must not look like a lack of permission.

Parameters:
  - resolver: PermissionResolver
  - names: ...string (all required)
*/
func RequirePermission(resolver PermissionResolver, names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())

			// ── 1. Authentication Check ───────────────────────────────────────
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			// ── 2. Resolution (once per request) ──────────────────────────────
			ctx := request.Context()
			set, ok := permission.FromContext(ctx)
			if !ok {
				result, err := resolver.ResolveMembership(ctx, permission.MembershipFromClaims(
					claims.UserID, claims.OrgID, claims.Roles, claims.CustomRoles,
				))
				if err != nil {
					respond.Error(writer, request, resolutionError(err))
					return
				}
				set = result.Set
				ctx = permission.WithSet(ctx, set)
			}

			// ── 3. Authorization Check ────────────────────────────────────────
			if !set.HasAll(names...) {
				ctxutil.GetLogger(ctx).WarnContext(ctx, "permission_denied",
					slog.String("user_id", claims.UserID),
					slog.Any("required", names),
				)
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

func resolutionError(err error) error {
	switch {
	case errors.Is(err, permission.ErrIdentityUnavailable):
		return apperr.DependencyFailure("identity", err)
	case errors.Is(err, permission.ErrCatalogueUnavailable):
		return apperr.DependencyFailure("permission_catalogue", err)
	default:
		return err
	}
}
