// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package dberr classifies PostgreSQL errors so repositories can turn driver
// failures into domain errors without matching on message text.
package dberr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryBackoff is the pause before the first retry; it doubles per attempt.
const retryBackoff = 10 * time.Millisecond

// Wrap maps [pgx.ErrNoRows] to the repository's notFound sentinel and
// annotates any other failure with action.
func Wrap(err error, notFound error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

// code returns the SQLSTATE carried by err, or "".
func code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a duplicate key.
func IsUniqueViolation(err error) bool {
	return code(err) == pgerrcode.UniqueViolation
}

// IsInvalidInput reports a value the column type rejected, such as a malformed
// inet or uuid literal.
func IsInvalidInput(err error) bool {
	switch code(err) {
	case pgerrcode.InvalidTextRepresentation, pgerrcode.InvalidParameterValue, pgerrcode.CheckViolation:
		return true
	default:
		return false
	}
}

// IsRetryable reports a transaction aborted by a concurrent one.
func IsRetryable(err error) bool {
	switch code(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	default:
		return false
	}
}

/*
Retry runs fn up to attempts times while it fails with a retryable error.

Returns:
  - error: The last error from fn, or ctx.Err() if cancelled while waiting
*/
func Retry(ctx context.Context, attempts int, fn func() error) error {
	backoff := retryBackoff

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}
