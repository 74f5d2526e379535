// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/warden/internal/platform/dberr"
)

// PostgresRepository stores devices and sessions in the security schema.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL guard repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, tokenhash, userid, orgid, devicefingerprint, COALESCE(ipaddress, ''), COALESCE(useragent, ''), isactive, createdat, lastactiveat, expiresat`

func scanSession(row pgx.Row) (Session, error) {
	var session Session
	err := row.Scan(
		&session.ID,
		&session.TokenHash,
		&session.UserID,
		&session.OrgID,
		&session.DeviceFingerprint,
		&session.IPAddress,
		&session.UserAgent,
		&session.IsActive,
		&session.CreatedAt,
		&session.LastActiveAt,
		&session.ExpiresAt,
	)
	return session, err
}

/*
LoadUserState implements [Repository].

Description: Devices and active sessions are read in one REPEATABLE READ
snapshot.
*/
func (repository *PostgresRepository) LoadUserState(ctx context.Context, userID string) (UserState, error) {
	var state UserState

	err := pgx.BeginTxFunc(ctx, repository.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT userid, devicefingerprint, istrusted, isblocked, blockedreason, firstseenat, lastseenat, blockedat
			FROM security.devicerestriction
			WHERE userid = $1
			ORDER BY firstseenat ASC`, userID)
		if err != nil {
			return err
		}
		state.Devices, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Device, error) {
			var device Device
			err := row.Scan(&device.UserID, &device.Fingerprint, &device.IsTrusted, &device.IsBlocked,
				&device.BlockedReason, &device.FirstSeenAt, &device.LastSeenAt, &device.BlockedAt)
			return device, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `
			SELECT `+sessionColumns+`
			FROM security.usersession
			WHERE userid = $1 AND isactive
			ORDER BY createdat ASC`, userID)
		if err != nil {
			return err
		}
		state.Sessions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
			return scanSession(row)
		})
		return err
	})

	if err != nil {
		return UserState{}, fmt.Errorf("postgres_guard_repo_load_state_failed: %w", err)
	}
	return state, nil
}

// applyAttempts bounds retries of a transaction aborted by a concurrent writer.
const applyAttempts = 3

// Apply implements [Repository] inside a single transaction, retried on
// serialization failures.
func (repository *PostgresRepository) Apply(ctx context.Context, userID string, changes Changes) error {
	if changes.IsEmpty() {
		return nil
	}

	err := dberr.Retry(ctx, applyAttempts, func() error {
		return repository.apply(ctx, userID, changes)
	})
	if err != nil {
		return fmt.Errorf("postgres_guard_repo_apply_failed: %w", err)
	}
	return nil
}

func (repository *PostgresRepository) apply(ctx context.Context, userID string, changes Changes) error {
	return pgx.BeginTxFunc(ctx, repository.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		if device := changes.Device; device != nil {
			batch.Queue(`
				INSERT INTO security.devicerestriction (
					userid, devicefingerprint, istrusted, isblocked, blockedreason, blockedat, firstseenat, lastseenat
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (userid, devicefingerprint) DO UPDATE SET
					istrusted = EXCLUDED.istrusted,
					isblocked = EXCLUDED.isblocked,
					blockedreason = EXCLUDED.blockedreason,
					blockedat = EXCLUDED.blockedat,
					lastseenat = EXCLUDED.lastseenat`,
				userID, device.Fingerprint, device.IsTrusted, device.IsBlocked,
				device.BlockedReason, device.BlockedAt, device.FirstSeenAt, device.LastSeenAt,
			)
		}

		if len(changes.Deactivate) > 0 {
			batch.Queue(`UPDATE security.usersession SET isactive = FALSE WHERE userid = $1 AND id = ANY($2)`,
				userID, changes.Deactivate)
		}

		if session := changes.Refresh; session != nil {
			batch.Queue(`UPDATE security.usersession SET lastactiveat = $3, expiresat = $4 WHERE userid = $1 AND id = $2 AND isactive`,
				userID, session.ID, session.LastActiveAt, session.ExpiresAt)
		}

		if session := changes.Create; session != nil {
			batch.Queue(`
				INSERT INTO security.usersession (
					id, tokenhash, userid, orgid, devicefingerprint, ipaddress, useragent, isactive, createdat, lastactiveat, expiresat
				) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), TRUE, $8, $9, $10)`,
				session.ID, session.TokenHash, userID, session.OrgID, session.DeviceFingerprint,
				session.IPAddress, session.UserAgent, session.CreatedAt, session.LastActiveAt, session.ExpiresAt,
			)
		}

		return tx.SendBatch(ctx, batch).Close()
	})
}

// FindSession implements [Repository].
func (repository *PostgresRepository) FindSession(ctx context.Context, tokenHash string) (*Session, error) {
	session, err := scanSession(repository.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM security.usersession WHERE tokenhash = $1`, tokenHash))
	if err != nil {
		return nil, dberr.Wrap(err, ErrSessionNotFound, "postgres_guard_repo_find_session_failed")
	}
	return &session, nil
}

// DeactivateExpired implements [Repository].
func (repository *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := repository.pool.Exec(ctx,
		`UPDATE security.usersession SET isactive = FALSE WHERE isactive AND expiresat <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_guard_repo_sweep_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
