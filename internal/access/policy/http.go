// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/warden/internal/platform/apperr"
	requestutil "github.com/taibuivan/warden/internal/platform/request"
	"github.com/taibuivan/warden/internal/platform/respond"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// Handler exposes the administrative policy surface. Mount it behind a
// permission check; it only enforces that the caller administers the org in the path.
type Handler struct {
	service *Service
}

// NewHandler creates a policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the endpoints relative to /orgs/{orgID}.
func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/security-settings", handler.getSettings)
	router.Patch("/security-settings", handler.updateSettings)

	router.Get("/ip-restrictions", handler.listRules)
	router.Post("/ip-restrictions", handler.createRule)
	router.Delete("/ip-restrictions/{ruleID}", handler.deleteRule)
}

func (handler *Handler) getSettings(writer http.ResponseWriter, request *http.Request) {
	_, orgID, err := orgScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	settings, err := handler.service.GetSettings(request.Context(), orgID)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, settings)
}

func (handler *Handler) updateSettings(writer http.ResponseWriter, request *http.Request) {
	claims, orgID, err := orgScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input SettingsUpdate
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	settings, err := handler.service.UpdateSettings(request.Context(), orgID, claims.UserID, input)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, settings)
}

func (handler *Handler) listRules(writer http.ResponseWriter, request *http.Request) {
	_, orgID, err := orgScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	rules, err := handler.service.ListIPRules(request.Context(), orgID)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, rules)
}

func (handler *Handler) createRule(writer http.ResponseWriter, request *http.Request) {
	claims, orgID, err := orgScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input IPRestriction
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Server-owned fields
	input.ID = ""
	input.OrgID = orgID
	input.CreatedBy = claims.UserID

	if err := handler.service.AddIPRule(request.Context(), &input); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.Created(writer, input)
}

func (handler *Handler) deleteRule(writer http.ResponseWriter, request *http.Request) {
	claims, orgID, err := orgScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.RemoveIPRule(request.Context(), orgID, requestutil.Param(request, "ruleID"), claims.UserID); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.NoContent(writer)
}

// orgScope returns the caller and the organisation in the path, which must be the caller's own.
func orgScope(request *http.Request) (*sec.AuthClaims, string, error) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		return nil, "", err
	}

	orgID := requestutil.Param(request, "orgID")
	if orgID != claims.OrgID {
		return nil, "", apperr.Forbidden("Cannot administer another organisation")
	}
	return claims, orgID, nil
}

// toAppError maps policy errors onto API errors.
func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrSettingsUnavailable):
		return apperr.DependencyFailure("policy_store", err)
	case errors.Is(err, ErrRuleNotFound):
		return apperr.NotFound("IP restriction")
	default:
		return err
	}
}
