// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr is the error vocabulary shared by every Warden handler.

An [AppError] pairs a stable machine code with an HTTP status and a message
that is safe to show a client. The wrapped Cause stays server-side.

Policy denials are not errors. A blocked IP, an over-limit session count or a
missing second factor come back from the guard as decision values; only
malformed input and failed dependencies become an AppError. Dependency
failures on the admission path are answered as DEPENDENCY_FAILURE so callers
treat them as a denial.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable codes returned in the "code" field of the error envelope.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDependencyFailure  = "DEPENDENCY_FAILURE"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError is a failure the API can report to a client.
type AppError struct {
	Code       string       `json:"code"`
	Message    string       `json:"error"`
	HTTPStatus int          `json:"-"`
	Cause      error        `json:"-"` // logged, never serialised
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap exposes Cause to [errors.Is] and [errors.As].
func (e *AppError) Unwrap() error { return e.Cause }

func newError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// NotFound reports a missing resource, e.g. NotFound("Device") gives "Device not found".
func NotFound(resource string) *AppError {
	return newError(http.StatusNotFound, CodeNotFound, resource+" not found")
}

// Unauthorized reports a missing or rejected credential.
func Unauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden reports an authenticated caller lacking a permission.
func Forbidden(message string) *AppError {
	return newError(http.StatusForbidden, CodeForbidden, message)
}

// Conflict reports a write that collides with existing state.
func Conflict(message string) *AppError {
	return newError(http.StatusConflict, CodeConflict, message)
}

// ValidationError reports malformed input, optionally per field.
func ValidationError(message string, details ...FieldError) *AppError {
	appError := newError(http.StatusBadRequest, CodeValidation, message)
	appError.Details = details
	return appError
}

// RateLimited reports a throttled client.
func RateLimited(retryAfterSeconds int) *AppError {
	return newError(http.StatusTooManyRequests, CodeRateLimited,
		fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds))
}

// Internal hides an unexpected failure behind a generic message.
func Internal(cause error) *AppError {
	appError := newError(http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
	appError.Cause = cause
	return appError
}

// DependencyFailure reports an upstream lookup that could not complete:
// identity, permission catalogue, policy store or session store.
func DependencyFailure(dependency string, cause error) *AppError {
	appError := newError(http.StatusServiceUnavailable, CodeDependencyFailure, dependency+" is temporarily unavailable")
	appError.Cause = cause
	return appError
}

// ServiceUnavailable reports that the server cannot take the request right now.
func ServiceUnavailable(message string) *AppError {
	return newError(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
}

// IsAppError reports whether err's chain holds an [*AppError].
func IsAppError(err error) bool {
	return As(err) != nil
}

// As returns the first [*AppError] in err's chain, or nil.
func As(err error) *AppError {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError
	}
	return nil
}
