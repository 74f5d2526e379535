// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package twofactor verifies time-based one-time passwords (RFC 6238).

Admission asks the [Verifier] whether a code presented with a login is valid
for the user. A user without an enrolled secret can never pass; the challenge
is then answered by enrolling first.

Each accepted time step is remembered per user so a code observed on the wire
cannot be replayed within its validity window.
*/
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrNotEnrolled is returned by repositories for a user without a secret.
var ErrNotEnrolled = errors.New("twofactor: user not enrolled")

// Validation parameters shared by enrollment and verification.
const (
	period uint = 30
	skew   uint = 1
	digits      = otp.DigitsSix
)

// # Storage Contract

// SecretRepository stores one TOTP secret per user.
type SecretRepository interface {
	FindSecret(context context.Context, userID string) (string, error)
	SaveSecret(context context.Context, userID, secret string) error
}

// # Verifier

// Enrollment is returned once, when a secret is created.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// Verifier enrolls users and validates their codes.
type Verifier struct {
	secrets SecretRepository
	issuer  string
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastStep map[string]uint64
}

// NewVerifier creates a TOTP verifier. Issuer labels entries in authenticator apps.
func NewVerifier(secrets SecretRepository, issuer string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secrets:  secrets,
		issuer:   issuer,
		logger:   logger,
		now:      time.Now,
		lastStep: make(map[string]uint64),
	}
}

// WithClock replaces the time source. Intended for tests.
func (verifier *Verifier) WithClock(now func() time.Time) *Verifier {
	verifier.now = now
	return verifier
}

/*
Enroll generates and stores a new secret for userID.

Parameters:
  - context: context.Context
  - userID: string
  - accountName: string (usually the e-mail shown in the authenticator)

Returns:
  - Enrollment: Secret and otpauth:// URL for QR rendering
  - error: Generation or storage failures
*/
func (verifier *Verifier) Enroll(context context.Context, userID, accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      verifier.issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("twofactor: generate secret: %w", err)
	}

	if err := verifier.secrets.SaveSecret(context, userID, key.Secret()); err != nil {
		return Enrollment{}, fmt.Errorf("twofactor: save secret: %w", err)
	}

	verifier.mu.Lock()
	delete(verifier.lastStep, userID)
	verifier.mu.Unlock()

	verifier.logger.InfoContext(context, "totp_enrolled", slog.String("user_id", userID))
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Enrolled reports whether userID has a secret.
func (verifier *Verifier) Enrolled(context context.Context, userID string) (bool, error) {
	_, err := verifier.secrets.FindSecret(context, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotEnrolled):
		return false, nil
	default:
		return false, fmt.Errorf("twofactor: load secret: %w", err)
	}
}

/*
Check validates code for userID without spending it.

Admission checks the code under the user's lock and spends it only once the
session is committed, so a login denied by another rule keeps the code usable.

Returns:
  - func() bool: spends the code; false if a concurrent caller spent it first.
    Nil for a wrong, replayed or empty code and for users without a secret.
  - error: Storage failures only
*/
func (verifier *Verifier) Check(context context.Context, userID, code string) (func() bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	secret, err := verifier.secrets.FindSecret(context, userID)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return nil, nil
		}
		return nil, fmt.Errorf("twofactor: load secret: %w", err)
	}

	now := verifier.now()
	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, nil
	}

	step := matchingStep(code, secret, now)
	if verifier.spent(userID, step) {
		verifier.logger.Warn("totp_replay_rejected", slog.String("user_id", userID))
		return nil, nil
	}
	return func() bool { return verifier.spend(userID, step) }, nil
}

/*
Verify reports whether code is a fresh, valid TOTP for userID and spends it.

Returns:
  - bool: false for a wrong, replayed or empty code and for users without a secret
  - error: Storage failures only
*/
func (verifier *Verifier) Verify(context context.Context, userID, code string) (bool, error) {
	spend, err := verifier.Check(context, userID, code)
	if err != nil || spend == nil {
		return false, err
	}
	return spend(), nil
}

// spent reports whether step, or a later one, was already accepted for userID.
func (verifier *Verifier) spent(userID string, step uint64) bool {
	verifier.mu.Lock()
	defer verifier.mu.Unlock()

	last, ok := verifier.lastStep[userID]
	return ok && step <= last
}

// spend records step as accepted. Reuse of it or of any earlier step fails.
func (verifier *Verifier) spend(userID string, step uint64) bool {
	verifier.mu.Lock()
	defer verifier.mu.Unlock()

	if last, ok := verifier.lastStep[userID]; ok && step <= last {
		verifier.logger.Warn("totp_replay_rejected", slog.String("user_id", userID))
		return false
	}
	verifier.lastStep[userID] = step
	return true
}

// matchingStep finds which step inside the skew window produced code.
func matchingStep(code, secret string, now time.Time) uint64 {
	current := uint64(now.Unix()) / uint64(period)
	for offset := -int(skew); offset <= int(skew); offset++ {
		step := uint64(int64(current) + int64(offset))
		at := time.Unix(int64(step*uint64(period)), 0)
		candidate, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
			Period:    period,
			Digits:    digits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && candidate == code {
			return step
		}
	}
	return current
}

// # In-Memory Implementation

// MemoryRepository keeps secrets in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryRepository creates an empty secret store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{secrets: make(map[string]string)}
}

// FindSecret implements [SecretRepository].
func (repository *MemoryRepository) FindSecret(_ context.Context, userID string) (string, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	secret, ok := repository.secrets[userID]
	if !ok {
		return "", ErrNotEnrolled
	}
	return secret, nil
}

// SaveSecret implements [SecretRepository].
func (repository *MemoryRepository) SaveSecret(_ context.Context, userID, secret string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.secrets[userID] = secret
	return nil
}
