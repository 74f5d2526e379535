// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/warden/internal/platform/apperr"
	requestutil "github.com/taibuivan/warden/internal/platform/request"
	"github.com/taibuivan/warden/internal/platform/respond"
)

type enrollRequest struct {
	// Code is required to replace an existing secret.
	Code string `json:"code"`
}

// Handler exposes self-service enrollment.
type Handler struct {
	verifier *Verifier
}

// NewHandler creates a two-factor handler.
func NewHandler(verifier *Verifier) *Handler {
	return &Handler{verifier: verifier}
}

// RegisterRoutes mounts /2fa endpoints.
func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/enroll", handler.enroll)
}

/*
enroll creates a secret for the caller. Replacing an existing secret needs a
valid current code, so a stolen bearer token cannot rebind the factor.
*/
func (handler *Handler) enroll(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input enrollRequest
	if err := requestutil.DecodeOptionalJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	ctx := request.Context()
	enrolled, err := handler.verifier.Enrolled(ctx, claims.UserID)
	if err != nil {
		respond.Error(writer, request, apperr.DependencyFailure("second_factor", err))
		return
	}
	if enrolled {
		ok, err := handler.verifier.Verify(ctx, claims.UserID, input.Code)
		if err != nil {
			respond.Error(writer, request, apperr.DependencyFailure("second_factor", err))
			return
		}
		if !ok {
			respond.Error(writer, request, apperr.Forbidden("A current code is required to replace the secret"))
			return
		}
	}

	account := claims.Email
	if account == "" {
		account = claims.UserID
	}

	enrollment, err := handler.verifier.Enroll(ctx, claims.UserID, account)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, enrollment)
}
