// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/constants"
	"github.com/taibuivan/warden/internal/platform/middleware"
	requestutil "github.com/taibuivan/warden/internal/platform/request"
	"github.com/taibuivan/warden/internal/platform/respond"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// MembershipSource confirms that a user belongs to an organisation.
type MembershipSource interface {
	Membership(ctx context.Context, orgID, userID string) (permission.Membership, error)
}

// # Payloads

type admitRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	SessionToken      string `json:"session_token"`
	SecondFactorCode  string `json:"second_factor_code"`
}

type blockRequest struct {
	Reason string `json:"reason"`
}

type durationRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// # Handler

// Handler exposes sessions, content decisions and device administration.
type Handler struct {
	guard   *Guard
	members MembershipSource
}

// NewHandler creates a guard handler. Members scopes device administration to
// the caller's organisation.
func NewHandler(guard *Guard, members MembershipSource) *Handler {
	return &Handler{guard: guard, members: members}
}

// RegisterSessionRoutes mounts /sessions endpoints.
func (handler *Handler) RegisterSessionRoutes(router chi.Router) {
	router.Post("/admit", handler.admit)
	router.Post("/touch", handler.touch)
	router.Delete("/{token}", handler.end)
}

// RegisterContentRoutes mounts /content endpoints.
func (handler *Handler) RegisterContentRoutes(router chi.Router) {
	router.Post("/access", handler.contentAccess)
	router.Post("/access/{id}/duration", handler.recordDuration)
}

// RegisterDeviceRoutes mounts /users/{userID}/devices endpoints. Mount behind
// a permission check.
func (handler *Handler) RegisterDeviceRoutes(router chi.Router) {
	router.Get("/", handler.listDevices)
	router.Post("/{fingerprint}/trust", handler.deviceAction(DeviceActionTrust))
	router.Post("/{fingerprint}/block", handler.deviceAction(DeviceActionBlock))
	router.Post("/{fingerprint}/unblock", handler.deviceAction(DeviceActionUnblock))
}

// # Sessions

/*
admit runs admission for the authenticated caller. A denial is a 200 with the
decision; only dependency failures become errors.
*/
func (handler *Handler) admit(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input admitRequest
	if err := requestutil.DecodeOptionalJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	decision, err := handler.guard.Admit(request.Context(), AdmissionRequest{
		UserID:            claims.UserID,
		OrgID:             claims.OrgID,
		Roles:             claims.Roles,
		DeviceFingerprint: firstNonEmpty(input.DeviceFingerprint, request.Header.Get(constants.HeaderDeviceFingerprint)),
		IPAddress:         middleware.RealIP(request),
		UserAgent:         request.UserAgent(),
		SessionToken:      firstNonEmpty(input.SessionToken, request.Header.Get(constants.HeaderSessionToken)),
		SecondFactorCode:  firstNonEmpty(input.SecondFactorCode, request.Header.Get(constants.HeaderSecondFactorCode)),
	})
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}

	if decision.Allowed && decision.Token != "" {
		respond.Created(writer, decision)
		return
	}
	respond.OK(writer, decision)
}

func (handler *Handler) touch(writer http.ResponseWriter, request *http.Request) {
	if _, err := requestutil.RequiredClaims(request); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.guard.TouchSession(request.Context(), request.Header.Get(constants.HeaderSessionToken))
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, session)
}

// end deactivates a session owned by the caller.
func (handler *Handler) end(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	token := requestutil.Param(request, "token")
	session, err := handler.guard.repository.FindSession(request.Context(), sec.HashToken(token))
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	if session.UserID != claims.UserID {
		// Do not reveal that the token exists.
		respond.Error(writer, request, apperr.NotFound("Session"))
		return
	}

	if err := handler.guard.EndSession(request.Context(), token, claims.UserID); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.NoContent(writer)
}

// # Content

func (handler *Handler) contentAccess(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input ContentMeta
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	decision, err := handler.guard.CanAccessContent(request.Context(), viewerFromClaims(claims), input, AccessContext{
		IPAddress: middleware.RealIP(request),
	})
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.OK(writer, decision)
}

func (handler *Handler) recordDuration(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input durationRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.guard.RecordViewingDuration(request.Context(), claims.UserID, requestutil.Param(request, "id"), input.DurationSeconds); err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	respond.NoContent(writer)
}

// # Devices

func (handler *Handler) listDevices(writer http.ResponseWriter, request *http.Request) {
	_, userID, err := handler.deviceScope(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	devices, err := handler.guard.ListDevices(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, toAppError(err))
		return
	}
	if devices == nil {
		devices = []Device{}
	}
	respond.OK(writer, devices)
}

func (handler *Handler) deviceAction(action DeviceAction) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		claims, userID, err := handler.deviceScope(request)
		if err != nil {
			respond.Error(writer, request, err)
			return
		}
		fingerprint := requestutil.Param(request, "fingerprint")

		var device *Device
		switch action {
		case DeviceActionTrust:
			device, err = handler.guard.TrustDevice(request.Context(), claims.UserID, userID, fingerprint)
		case DeviceActionUnblock:
			device, err = handler.guard.UnblockDevice(request.Context(), claims.UserID, userID, fingerprint)
		case DeviceActionBlock:
			var input blockRequest
			if err := requestutil.DecodeOptionalJSON(request, &input); err != nil {
				respond.Error(writer, request, err)
				return
			}
			device, err = handler.guard.BlockDevice(request.Context(), claims.UserID, userID, fingerprint, input.Reason)
		}
		if err != nil {
			respond.Error(writer, request, toAppError(err))
			return
		}
		respond.OK(writer, device)
	}
}

// deviceScope resolves the target user and checks they belong to the caller's organisation.
func (handler *Handler) deviceScope(request *http.Request) (*sec.AuthClaims, string, error) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		return nil, "", err
	}

	userID := requestutil.Param(request, "userID")
	if handler.members != nil {
		if _, err := handler.members.Membership(request.Context(), claims.OrgID, userID); err != nil {
			if errors.Is(err, permission.ErrIdentityUnavailable) {
				return nil, "", apperr.NotFound("User")
			}
			return nil, "", apperr.DependencyFailure("identity", err)
		}
	}
	return claims, userID, nil
}

// # Helpers

func viewerFromClaims(claims *sec.AuthClaims) Viewer {
	return Viewer{
		UserID: claims.UserID,
		OrgID:  claims.OrgID,
		Email:  claims.Email,
		Name:   claims.Name,
		Roles:  claims.Roles,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// toAppError maps guard errors onto API errors.
func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return apperr.NotFound("Session")
	case errors.Is(err, ErrDeviceNotFound):
		return apperr.NotFound("Device")
	case errors.Is(err, audit.ErrContentAccessNotFound):
		return apperr.NotFound("Content access")
	case errors.Is(err, ErrInvalidTransition):
		return apperr.Conflict(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.ServiceUnavailable("Request was cancelled before a decision was made")
	default:
		return err
	}
}
