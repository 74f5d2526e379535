// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/warden/internal/platform/dberr"
)

// PostgresRepository stores secrets in security.usertotp.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL secret store.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// FindSecret implements [SecretRepository].
func (repository *PostgresRepository) FindSecret(context context.Context, userID string) (string, error) {
	var secret string
	err := repository.pool.QueryRow(context, `SELECT secret FROM security.usertotp WHERE userid = $1`, userID).Scan(&secret)
	if err != nil {
		return "", dberr.Wrap(err, ErrNotEnrolled, "postgres_totp_repo_find_failed")
	}
	return secret, nil
}

// SaveSecret implements [SecretRepository].
func (repository *PostgresRepository) SaveSecret(context context.Context, userID, secret string) error {
	_, err := repository.pool.Exec(context, `
		INSERT INTO security.usertotp (userid, secret, enrolledat)
		VALUES ($1, $2, NOW())
		ON CONFLICT (userid) DO UPDATE SET secret = EXCLUDED.secret, enrolledat = NOW()`,
		userID, secret,
	)
	if err != nil {
		return fmt.Errorf("postgres_totp_repo_save_failed: %w", err)
	}
	return nil
}
