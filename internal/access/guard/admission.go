// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/internal/platform/sec"
	"github.com/taibuivan/warden/internal/platform/validate"
	"github.com/taibuivan/warden/pkg/slice"
	"github.com/taibuivan/warden/pkg/uuid"
)

// Admission step names recorded in the audit trail.
const (
	StepDeviceBlocked = "device_blocked_check"
	StepDeviceLimit   = "device_limit_check"
	StepIPRestriction = "ip_restriction_check"
	StepSessionLimit  = "session_limit_check"
	StepSecondFactor  = "second_factor_check"
)

// # Request / Decision

// AdmissionRequest describes one login attempt of an authenticated principal.
type AdmissionRequest struct {
	UserID            string
	OrgID             string
	Roles             []string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string

	// SessionToken, when it names a live session of the same device, refreshes
	// that session instead of opening a new one.
	SessionToken string

	// SecondFactorVerified is set by callers that verified the factor themselves.
	SecondFactorVerified bool
	SecondFactorCode     string
}

// Decision is the outcome of an admission.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`

	// Challenge is true for 2fa_required: the caller may retry with a code.
	Challenge bool `json:"challenge,omitempty"`

	Session *Session `json:"session,omitempty"`

	// Token is the raw session token, present only when a session was created.
	Token string `json:"token,omitempty"`

	Refreshed bool     `json:"refreshed,omitempty"`
	Evicted   []string `json:"evicted_session_ids,omitempty"`
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason, Challenge: reason == ReasonSecondFactorRequired}
}

// # Admission

// admission carries the state of one evaluation.
type admission struct {
	request  AdmissionRequest
	settings policy.SecuritySettings
	state    UserState
	now      time.Time
	events   []audit.Event
	changes  Changes

	// autoEvict is applied only if the admission succeeds.
	autoEvict []Session

	// spendFactor marks the presented one-time code used once the changes commit.
	spendFactor func() bool
}

// dependencyError names the collaborator that failed during evaluation.
type dependencyError struct {
	dependency string
	cause      error
}

func (e *dependencyError) Error() string { return e.dependency + ": " + e.cause.Error() }

func (e *dependencyError) Unwrap() error { return e.cause }

// step records one admission step in the audit trail.
func (a *admission) step(name string, passed, enforced bool, reason Reason, extra map[string]any) {
	severity := audit.SeverityInfo
	if !passed {
		severity = audit.SeverityWarning
	}

	metadata := map[string]any{"step": name, "passed": passed, "enforced": enforced}
	if reason != ReasonNone {
		metadata["reason"] = string(reason)
	}
	for key, value := range extra {
		metadata[key] = value
	}

	a.events = append(a.events, audit.Event{
		EventType:         audit.EventAdmissionStep,
		Category:          audit.CategorySession,
		Severity:          severity,
		UserID:            a.request.UserID,
		OrgID:             a.request.OrgID,
		IPAddress:         a.request.IPAddress,
		DeviceFingerprint: a.request.DeviceFingerprint,
		Metadata:          metadata,
	})
}

/*
Admit decides whether a new session may be opened and, if so, opens it.

Description: Runs the five admission checks in order under the user's lock,
then writes every resulting change with one atomic repository call. The lock
is released before the audit trail is emitted, and entries are emitted only
after the decision is final (and, for admissions, committed).

Parameters:
  - ctx: context.Context
  - request: AdmissionRequest

Returns:
  - Decision: Allowed, or denied with a Reason
  - error: Validation errors, context cancellation (no decision was made, no
    state changed), or a dependency failure (decision is a fail-closed denial)
*/
func (guard *Guard) Admit(ctx context.Context, request AdmissionRequest) (Decision, error) {
	request.DeviceFingerprint = strings.TrimSpace(request.DeviceFingerprint)

	validator := &validate.Validator{}
	validator.Required("user_id", request.UserID)
	validator.Required("org_id", request.OrgID)
	validator.Required("device_fingerprint", request.DeviceFingerprint).MaxLen("device_fingerprint", request.DeviceFingerprint, 512)
	if err := validator.Err(); err != nil {
		return Decision{}, err
	}

	a := &admission{request: request}

	decision, err := guard.decide(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		dependency := "admission"
		var failed *dependencyError
		if errors.As(err, &failed) {
			dependency = failed.dependency
		}
		return guard.dependencyFailure(ctx, a, dependency, err)
	}

	guard.finish(ctx, a, decision)
	return decision, nil
}

// decide loads, evaluates and commits under the user's lock. It emits nothing.
func (guard *Guard) decide(ctx context.Context, a *admission) (Decision, error) {
	request := a.request

	settings, err := guard.settings.GetSettings(ctx, request.OrgID)
	if err != nil {
		return Decision{}, &dependencyError{dependency: "settings", cause: err}
	}
	a.settings = settings

	unlock, err := guard.lockUser(ctx, request.UserID)
	if err != nil {
		return Decision{}, &dependencyError{dependency: "user_lock", cause: err}
	}
	defer unlock()

	state, err := guard.repository.LoadUserState(ctx, request.UserID)
	if err != nil {
		return Decision{}, &dependencyError{dependency: "session_store", cause: err}
	}
	a.state = state
	a.now = guard.now().UTC()

	decision, err := guard.evaluate(ctx, a)
	if err != nil {
		return Decision{}, err
	}

	if a.changes.IsEmpty() {
		return decision, nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if err := guard.repository.Apply(ctx, request.UserID, a.changes); err != nil {
		return Decision{}, &dependencyError{dependency: "session_store", cause: err}
	}

	// Still under the lock, so no other admission of this user can present
	// the same code in between.
	if a.spendFactor != nil && !a.spendFactor() {
		guard.logger.WarnContext(ctx, "second_factor_spent_concurrently", slog.String("user_id", request.UserID))
	}
	return decision, nil
}

// evaluate runs the checks and fills a.changes. It never writes.
func (guard *Guard) evaluate(ctx context.Context, a *admission) (Decision, error) {
	request, settings := a.request, a.settings
	device := a.state.device(request.DeviceFingerprint)

	// 1. Blocked device. Enforced whether or not device restriction is on.
	if device.State() == DeviceBlocked {
		a.step(StepDeviceBlocked, false, true, ReasonDeviceBlocked, nil)
		return deny(ReasonDeviceBlocked), nil
	}
	a.step(StepDeviceBlocked, true, true, ReasonNone, map[string]any{"device_state": device.State()})

	// 2. Device limit. Known devices never consume a new slot.
	if settings.EnableDeviceRestriction {
		known := 0
		for _, existing := range a.state.Devices {
			if !existing.IsBlocked {
				known++
			}
		}
		limit := map[string]any{"known_devices": known, "max_devices_per_user": settings.MaxDevicesPerUser}
		if device == nil && known >= settings.MaxDevicesPerUser {
			a.step(StepDeviceLimit, false, true, ReasonDeviceLimitExceeded, limit)
			return deny(ReasonDeviceLimitExceeded), nil
		}
		a.step(StepDeviceLimit, true, true, ReasonNone, limit)
	} else {
		a.step(StepDeviceLimit, true, false, ReasonNone, nil)
	}

	// 3. IP restriction
	if settings.EnableIPRestriction {
		rules, err := guard.rules.ListIPRules(ctx, request.OrgID)
		if err != nil {
			return Decision{}, &dependencyError{dependency: "ip_rules", cause: err}
		}
		verdict := policy.EvaluateIP(rules, request.UserID, request.IPAddress)
		extra := map[string]any{}
		if verdict.Rule != nil {
			extra["rule_id"] = verdict.Rule.ID
		}
		if verdict.Blocked {
			a.step(StepIPRestriction, false, true, ReasonIPBlocked, extra)
			return deny(ReasonIPBlocked), nil
		}
		a.step(StepIPRestriction, true, true, ReasonNone, extra)
	} else {
		a.step(StepIPRestriction, true, false, ReasonNone, nil)
	}

	// 4. Concurrent sessions. A limit below one admits nobody and evicts nothing.
	live := liveSessions(a.state.Sessions, a.now)
	extra := map[string]any{"live_sessions": len(live), "max_concurrent_sessions": settings.MaxConcurrentSessions}
	if settings.MaxConcurrentSessions < 1 {
		a.step(StepSessionLimit, false, true, ReasonSessionLimitExceeded, extra)
		return deny(ReasonSessionLimitExceeded), nil
	}

	if excess := len(live) - settings.MaxConcurrentSessions; excess > 0 && guard.options.LimitReduction == LimitReductionForceExpire {
		guard.evict(a, live[:excess], "limit_reduced")
		live = live[excess:]
		extra["live_sessions"] = len(live)
	}

	refresh := guard.refreshable(live, request)
	if refresh == nil && len(live) >= settings.MaxConcurrentSessions {
		if !guard.options.AutoEvict {
			a.step(StepSessionLimit, false, true, ReasonSessionLimitExceeded, extra)
			return deny(ReasonSessionLimitExceeded), nil
		}
		a.autoEvict = live[:len(live)-settings.MaxConcurrentSessions+1]
		extra["auto_evict"] = len(a.autoEvict)
	}
	a.step(StepSessionLimit, true, true, ReasonNone, extra)

	// 5. Second factor
	if settings.RequiresSecondFactor(request.Roles) {
		if !guard.secondFactor(ctx, a) {
			a.step(StepSecondFactor, false, true, ReasonSecondFactorRequired, nil)
			return deny(ReasonSecondFactorRequired), nil
		}
		a.step(StepSecondFactor, true, true, ReasonNone, nil)
	} else {
		a.step(StepSecondFactor, true, false, ReasonNone, nil)
	}

	// 6. Admit
	return guard.admit(a, device, refresh)
}

// admit prepares the session and device writes of a successful admission.
func (guard *Guard) admit(a *admission, device *Device, refresh *Session) (Decision, error) {
	request, now := a.request, a.now
	expiresAt := now.Add(a.settings.SessionTimeout())

	guard.evict(a, a.autoEvict, "auto_evict")

	if device == nil {
		device = &Device{UserID: request.UserID, Fingerprint: request.DeviceFingerprint, FirstSeenAt: now}
	}
	device.LastSeenAt = now
	a.changes.Device = device

	decision := Decision{Allowed: true}

	if refresh != nil {
		refreshed := *refresh
		refreshed.LastActiveAt = now
		refreshed.ExpiresAt = expiresAt
		a.changes.Refresh = &refreshed
		decision.Session = &refreshed
		decision.Refreshed = true
	} else {
		token, err := sec.GenerateSecureToken(sessionTokenBytes)
		if err != nil {
			return Decision{}, &dependencyError{dependency: "entropy", cause: err}
		}
		session := &Session{
			ID:                uuid.New(),
			TokenHash:         sec.HashToken(token),
			UserID:            request.UserID,
			OrgID:             request.OrgID,
			DeviceFingerprint: request.DeviceFingerprint,
			IPAddress:         request.IPAddress,
			UserAgent:         request.UserAgent,
			IsActive:          true,
			CreatedAt:         now,
			LastActiveAt:      now,
			ExpiresAt:         expiresAt,
		}
		a.changes.Create = session
		decision.Session = session
		decision.Token = token
	}

	decision.Evicted = a.changes.Deactivate
	return decision, nil
}

// refreshable returns the live session named by the request's token when it
// belongs to the same device.
func (guard *Guard) refreshable(live []Session, request AdmissionRequest) *Session {
	if request.SessionToken == "" {
		return nil
	}
	hash := sec.HashToken(request.SessionToken)
	for i := range live {
		if live[i].TokenHash == hash && live[i].DeviceFingerprint == request.DeviceFingerprint {
			return &live[i]
		}
	}
	return nil
}

// evict schedules sessions for deactivation and records why.
func (guard *Guard) evict(a *admission, sessions []Session, cause string) {
	a.changes.Deactivate = append(a.changes.Deactivate, slice.Map(sessions, func(session Session) string { return session.ID })...)
	for _, session := range sessions {
		a.events = append(a.events, audit.Event{
			EventType:         audit.EventSessionEvicted,
			Category:          audit.CategorySession,
			Severity:          audit.SeverityWarning,
			UserID:            session.UserID,
			OrgID:             session.OrgID,
			IPAddress:         session.IPAddress,
			DeviceFingerprint: session.DeviceFingerprint,
			Metadata:          map[string]any{"session_id": session.ID, "cause": cause},
		})
	}
}

// secondFactor reports whether the request carries a valid factor. A code is
// only checked here; it is spent after the admission commits.
func (guard *Guard) secondFactor(ctx context.Context, a *admission) bool {
	request := a.request
	if request.SecondFactorVerified {
		return true
	}
	if request.SecondFactorCode == "" || guard.verifier == nil {
		return false
	}

	spend, err := guard.verifier.Check(ctx, request.UserID, request.SecondFactorCode)
	if err != nil {
		guard.logger.ErrorContext(ctx, "second_factor_verification_failed",
			slog.String("user_id", request.UserID),
			slog.Any("error", err),
		)
		return false
	}
	if spend == nil {
		return false
	}
	a.spendFactor = spend
	return true
}

// finish emits the trail and metrics of a final decision.
func (guard *Guard) finish(ctx context.Context, a *admission, decision Decision) {
	metadata := map[string]any{"allowed": decision.Allowed}
	if decision.Reason != ReasonNone {
		metadata["reason"] = string(decision.Reason)
	}
	if decision.Session != nil {
		metadata["session_id"] = decision.Session.ID
		metadata["refreshed"] = decision.Refreshed
	}

	severity := audit.SeverityInfo
	if !decision.Allowed {
		severity = audit.SeverityWarning
	}

	events := append(a.events, audit.Event{
		EventType:         audit.EventAdmissionDecision,
		Category:          audit.CategorySession,
		Severity:          severity,
		UserID:            a.request.UserID,
		OrgID:             a.request.OrgID,
		IPAddress:         a.request.IPAddress,
		DeviceFingerprint: a.request.DeviceFingerprint,
		Metadata:          metadata,
	})
	guard.emitter.Emit(ctx, events...)

	reason := string(decision.Reason)
	if decision.Allowed {
		reason = "admitted"
	}
	guard.metrics.Admission(decision.Allowed, reason)
	guard.metrics.SessionsEvicted(len(a.changes.Deactivate))

	logger := guard.logger.With(
		slog.String("user_id", a.request.UserID),
		slog.String("org_id", a.request.OrgID),
	)
	if decision.Allowed {
		logger.InfoContext(ctx, "admission_granted", slog.Bool("refreshed", decision.Refreshed))
	} else {
		logger.WarnContext(ctx, "admission_denied", slog.String("reason", reason))
	}
}

// dependencyFailure fails closed: the decision is a denial and the cause is returned.
func (guard *Guard) dependencyFailure(ctx context.Context, a *admission, dependency string, cause error) (Decision, error) {
	decision := deny(ReasonDependencyFailure)

	a.changes = Changes{}
	a.events = []audit.Event{{
		EventType: audit.EventAdmissionStep,
		Category:  audit.CategorySession,
		Severity:  audit.SeverityCritical,
		UserID:    a.request.UserID,
		OrgID:     a.request.OrgID,
		IPAddress: a.request.IPAddress,
		Metadata:  map[string]any{"step": "dependency", "dependency": dependency, "passed": false},
	}}
	guard.finish(ctx, a, decision)

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return decision, cause
	}
	return decision, apperr.DependencyFailure(dependency, fmt.Errorf("guard: admission: %w", cause))
}
