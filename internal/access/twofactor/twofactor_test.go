// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/twofactor"
)

/*
TestVerifier_EnrollAndVerify covers the happy path and a wrong code.
*/
func TestVerifier_EnrollAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := twofactor.NewVerifier(twofactor.NewMemoryRepository(), "Warden", nil).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	enrollment, err := verifier.Enroll(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")

	code, err := totp.GenerateCode(enrollment.Secret, now)
	require.NoError(t, err)

	ok, err := verifier.Verify(ctx, "u1", code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifier.Verify(ctx, "u1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

/*
TestVerifier_RejectsReplay ensures an accepted code cannot be used twice.
*/
func TestVerifier_RejectsReplay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := twofactor.NewVerifier(twofactor.NewMemoryRepository(), "Warden", nil).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	enrollment, err := verifier.Enroll(ctx, "u1", "alice@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, now)
	require.NoError(t, err)

	first, err := verifier.Verify(ctx, "u1", code)
	require.NoError(t, err)
	second, err := verifier.Verify(ctx, "u1", code)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	// The next window produces a fresh, acceptable code.
	now = now.Add(30 * time.Second)
	next, err := totp.GenerateCode(enrollment.Secret, now)
	require.NoError(t, err)
	ok, err := verifier.Verify(ctx, "u1", next)
	require.NoError(t, err)
	assert.True(t, ok)
}

/*
TestVerifier_CheckDoesNotSpend keeps a checked code usable until it is spent,
and lets only one of two concurrent holders spend it.
*/
func TestVerifier_CheckDoesNotSpend(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := twofactor.NewVerifier(twofactor.NewMemoryRepository(), "Warden", nil).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	enrollment, err := verifier.Enroll(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, now)
	require.NoError(t, err)

	first, err := verifier.Check(ctx, "u1", code)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := verifier.Check(ctx, "u1", code)
	require.NoError(t, err)
	require.NotNil(t, second, "an unspent code checks again")

	assert.True(t, first())
	assert.False(t, second())

	replayed, err := verifier.Check(ctx, "u1", code)
	require.NoError(t, err)
	assert.Nil(t, replayed)
}

/*
TestVerifier_NotEnrolled checks that users without a secret never pass.
*/
func TestVerifier_NotEnrolled(t *testing.T) {
	verifier := twofactor.NewVerifier(twofactor.NewMemoryRepository(), "Warden", nil)

	ok, err := verifier.Verify(context.Background(), "ghost", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = verifier.Verify(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

/*
TestVerifier_Enrolled reports enrollment state.
*/
func TestVerifier_Enrolled(t *testing.T) {
	verifier := twofactor.NewVerifier(twofactor.NewMemoryRepository(), "Warden", nil)
	ctx := context.Background()

	enrolled, err := verifier.Enrolled(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, enrolled)

	_, err = verifier.Enroll(ctx, "u1", "alice@example.com")
	require.NoError(t, err)

	enrolled, err = verifier.Enrolled(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, enrolled)
}
