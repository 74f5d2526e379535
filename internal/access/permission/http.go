// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/constants"
	requestutil "github.com/taibuivan/warden/internal/platform/request"
	"github.com/taibuivan/warden/internal/platform/respond"
	"github.com/taibuivan/warden/internal/platform/sec"
	"github.com/taibuivan/warden/internal/platform/validate"
)

// Check modes accepted by the check endpoint.
const (
	CheckModeOne = "one"
	CheckModeAny = "any"
	CheckModeAll = "all"
)

// # Payloads

type resolveRequest struct {
	UserID string `json:"user_id"`
}

type resolveResponse struct {
	UserID      string        `json:"user_id"`
	OrgID       string        `json:"org_id"`
	Permissions []string      `json:"permissions"`
	Degraded    []Degradation `json:"degraded,omitempty"`
}

type checkRequest struct {
	Permissions []string `json:"permissions"`
	Mode        string   `json:"mode"`
}

type catalogueResponse struct {
	Permissions []Permission   `json:"permissions"`
	Roles       []sec.UserRole `json:"roles"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Mode    string `json:"mode"`
}

// # Handler

// Handler exposes resolution over HTTP. Routes expect authenticated requests.
type Handler struct {
	service *Service
}

// NewHandler creates a permission handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the permission endpoints.
func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/resolve", handler.resolve)
	router.Post("/check", handler.check)
	router.Get("/catalogue", handler.catalogue)
}

/*
resolve returns the caller's effective set, or another member's when the
caller holds security.view.
*/
func (handler *Handler) resolve(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input resolveRequest
	if err := requestutil.DecodeOptionalJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	caller, err := handler.service.ResolveMembership(request.Context(), MembershipFromClaims(claims.UserID, claims.OrgID, claims.Roles, claims.CustomRoles))
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	if input.UserID == "" || input.UserID == claims.UserID {
		respond.OK(writer, resolveResponse{
			UserID:      claims.UserID,
			OrgID:       claims.OrgID,
			Permissions: caller.Set.Names(),
			Degraded:    caller.Degraded,
		})
		return
	}

	if !caller.Set.Has(constants.PermissionSecurityView) {
		respond.Error(writer, request, apperr.Forbidden("Missing permission: "+constants.PermissionSecurityView))
		return
	}

	target, err := handler.service.Resolve(request.Context(), claims.OrgID, input.UserID)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	respond.OK(writer, resolveResponse{
		UserID:      input.UserID,
		OrgID:       claims.OrgID,
		Permissions: target.Set.Names(),
		Degraded:    target.Degraded,
	})
}

// check evaluates hasPermission, hasAnyPermission or hasAllPermissions for the caller.
func (handler *Handler) check(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input checkRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Mode == "" {
		input.Mode = CheckModeAll
	}

	validator := &validate.Validator{}
	validator.OneOf("mode", input.Mode, CheckModeOne, CheckModeAny, CheckModeAll)
	validator.Custom("permissions", input.Mode == CheckModeOne && len(input.Permissions) != 1, "exactly one permission is required in mode one")
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.ResolveMembership(request.Context(), MembershipFromClaims(claims.UserID, claims.OrgID, claims.Roles, claims.CustomRoles))
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	var allowed bool
	switch input.Mode {
	case CheckModeOne:
		allowed = HasPermission(result.Set, input.Permissions[0])
	case CheckModeAny:
		allowed = HasAny(result.Set, input.Permissions)
	default:
		allowed = HasAll(result.Set, input.Permissions)
	}

	respond.OK(writer, checkResponse{Allowed: allowed, Mode: input.Mode})
}

func (handler *Handler) catalogue(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	permissions, err := handler.service.Catalogue(request.Context(), claims.OrgID)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, catalogueResponse{Permissions: permissions, Roles: sec.BuiltInRoles})
}

// MembershipFromClaims builds a membership from verified token claims.
func MembershipFromClaims(userID, orgID string, roles, customRoleIDs []string) Membership {
	return Membership{UserID: userID, OrgID: orgID, Roles: roles, CustomRoleIDs: customRoleIDs}
}

// toAppError maps resolution failures onto API errors.
func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrIdentityUnavailable):
		return apperr.DependencyFailure("identity", err)
	case errors.Is(err, ErrCatalogueUnavailable):
		return apperr.DependencyFailure("permission_catalogue", err)
	default:
		return err
	}
}
