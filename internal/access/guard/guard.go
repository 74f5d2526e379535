// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package guard makes session admission, device and content-access decisions.

# Admission

[Guard.Admit] evaluates a login attempt in a fixed, short-circuiting order:

 1. blocked device
 2. device limit
 3. IP restriction
 4. concurrent session limit
 5. second factor

and only then creates or refreshes the session. The whole evaluation runs under
a per-user lock and every state change it implies is written in one atomic
repository call, so concurrent logins cannot overshoot a limit and an abandoned
call leaves nothing behind.

# Denials

A denial is a [Decision] with a machine-readable [Reason], never an error.
Errors are reserved for dependency failures, in which case the returned
decision is a fail-closed denial with [ReasonDependencyFailure].
*/
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/platform/keylock"
	"github.com/taibuivan/warden/internal/platform/metrics"
)

// # Errors

var (
	ErrDeviceNotFound    = errors.New("guard: device not found")
	ErrSessionNotFound   = errors.New("guard: session not found")
	ErrInvalidTransition = errors.New("guard: invalid device transition")
)

// # Reasons

// Reason is the machine-readable cause of a denial.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonDeviceBlocked        Reason = "device_blocked"
	ReasonDeviceLimitExceeded  Reason = "device_limit_exceeded"
	ReasonIPBlocked            Reason = "ip_blocked"
	ReasonSessionLimitExceeded Reason = "session_limit_exceeded"
	ReasonSecondFactorRequired Reason = "2fa_required"
	ReasonDownloadRestricted   Reason = "download_restricted"
	ReasonDependencyFailure    Reason = "dependency_failure"
)

// # Options

// LimitReductionPolicy decides what happens to sessions above a lowered limit.
type LimitReductionPolicy string

const (
	// LimitReductionBlockNew keeps existing sessions and denies new ones until
	// enough of them end or expire.
	LimitReductionBlockNew LimitReductionPolicy = "block_new"

	// LimitReductionForceExpire deactivates the least recently active excess
	// sessions on the user's next admission.
	LimitReductionForceExpire LimitReductionPolicy = "force_expire"
)

// Options tunes admission behaviour.
type Options struct {
	// AutoEvict ends the least recently active session instead of denying
	// with session_limit_exceeded.
	AutoEvict bool

	LimitReduction LimitReductionPolicy
}

// # Collaborators

// SettingsSource returns the effective settings of an organisation.
type SettingsSource interface {
	GetSettings(ctx context.Context, orgID string) (policy.SecuritySettings, error)
}

// IPRuleSource returns the IP rules of an organisation.
type IPRuleSource interface {
	ListIPRules(ctx context.Context, orgID string) ([]policy.IPRestriction, error)
}

// SecondFactorVerifier validates a one-time code without spending it. The
// returned function spends the code and reports false if it was already spent;
// it is nil when the code is not valid.
type SecondFactorVerifier interface {
	Check(ctx context.Context, userID, code string) (func() bool, error)
}

// # Guard

// Guard owns sessions and devices and decides admission and content access.
type Guard struct {
	repository Repository
	settings   SettingsSource
	rules      IPRuleSource
	verifier   SecondFactorVerifier
	locker     keylock.Locker
	emitter    *audit.Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	options    Options
	now        func() time.Time
}

// Config bundles the Guard's collaborators. Verifier, Locker, Emitter,
// Metrics and Logger are optional.
type Config struct {
	Repository Repository
	Settings   SettingsSource
	Rules      IPRuleSource
	Verifier   SecondFactorVerifier
	Locker     keylock.Locker
	Emitter    *audit.Emitter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Options    Options
}

// New creates a Guard.
func New(config Config) *Guard {
	if config.Locker == nil {
		config.Locker = keylock.NewLocal()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Options.LimitReduction == "" {
		config.Options.LimitReduction = LimitReductionBlockNew
	}

	return &Guard{
		repository: config.Repository,
		settings:   config.Settings,
		rules:      config.Rules,
		verifier:   config.Verifier,
		locker:     config.Locker,
		emitter:    config.Emitter,
		metrics:    config.Metrics,
		logger:     config.Logger,
		options:    config.Options,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (guard *Guard) WithClock(now func() time.Time) *Guard {
	guard.now = now
	return guard
}

// lockUser serializes every state change of one user.
func (guard *Guard) lockUser(ctx context.Context, userID string) (func(), error) {
	return guard.locker.Lock(ctx, "user:"+userID)
}
