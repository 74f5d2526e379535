// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package requestutil reads path parameters, JSON bodies and verified claims
from incoming requests, turning every failure into an [apperr.AppError].
*/
package requestutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/ctxutil"
	"github.com/taibuivan/warden/internal/platform/sec"
	"github.com/taibuivan/warden/internal/platform/validate"
)

// MaxBodyBytes bounds every JSON request body. Commands here are small.
const MaxBodyBytes = 64 << 10

/*
DecodeJSON decodes the request body into target.

Returns:
  - error: validate.ErrInvalidJSON for a missing or malformed body, or a
    VALIDATION_ERROR when the body exceeds [MaxBodyBytes]
*/
func DecodeJSON(request *http.Request, target any) error {
	err := decode(request, target)
	if errors.Is(err, io.EOF) {
		return validate.ErrInvalidJSON
	}
	return err
}

// DecodeOptionalJSON is [DecodeJSON] for endpoints whose body may be empty.
// target is left untouched when there is no body.
func DecodeOptionalJSON(request *http.Request, target any) error {
	err := decode(request, target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func decode(request *http.Request, target any) error {
	if request.Body == nil {
		return io.EOF
	}

	body := http.MaxBytesReader(nil, request.Body, MaxBodyBytes)
	err := json.NewDecoder(body).Decode(target)

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return err
	case errors.As(err, &tooLarge):
		return apperr.ValidationError("Request body is too large")
	default:
		return validate.ErrInvalidJSON
	}
}

// Param returns a trimmed URL path parameter, or "".
func Param(request *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(request, name))
}

/*
RequiredClaims returns the verified claims of the caller.

Returns:
  - *sec.AuthClaims: The authenticated caller
  - error: apperr.Unauthorized for an anonymous request
*/
func RequiredClaims(request *http.Request) (*sec.AuthClaims, error) {
	claims := ctxutil.GetAuthUser(request.Context())
	if claims == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	return claims, nil
}
