// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/warden/internal/platform/dberr"
	"github.com/taibuivan/warden/pkg/uuid"
)

// PostgresRepository implements both policy repositories on the security schema.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL policy repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const settingsColumns = `
	orgid, maxconcurrentsessions, maxdevicesperuser, sessiontimeoutminutes,
	enable2fa, require2faforroles, enableiprestriction, enabledevicerestriction,
	enablewatermark, watermarktexttemplate, enablescreencaptureprevention,
	enablerightclickprevention, videoprotectionlevel, downloadrestrictionroles,
	updatedat`

// scanSettings reads one row selected with settingsColumns.
func scanSettings(row pgx.Row) (*SecuritySettings, error) {
	var settings SecuritySettings
	err := row.Scan(
		&settings.OrgID,
		&settings.MaxConcurrentSessions,
		&settings.MaxDevicesPerUser,
		&settings.SessionTimeoutMinutes,
		&settings.Enable2FA,
		&settings.Require2FAForRoles,
		&settings.EnableIPRestriction,
		&settings.EnableDeviceRestriction,
		&settings.EnableWatermark,
		&settings.WatermarkTextTemplate,
		&settings.EnableScreenCapturePrevention,
		&settings.EnableRightClickPrevention,
		&settings.VideoProtectionLevel,
		&settings.DownloadRestrictionRoles,
		&settings.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// FindSettings implements [SettingsRepository].
func (repository *PostgresRepository) FindSettings(context context.Context, orgID string) (*SecuritySettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM security.securitysettings WHERE orgid = $1`

	settings, err := scanSettings(repository.pool.QueryRow(context, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("postgres_policy_repo_find_settings_failed: %w", err)
	}
	return settings, nil
}

/*
MutateSettings implements [SettingsRepository].

Description: Inserts the default row if missing (ON CONFLICT DO NOTHING), then
locks it with SELECT ... FOR UPDATE, applies mutate and writes every column
back. Concurrent writers on the same organisation queue on the row lock.
*/
func (repository *PostgresRepository) MutateSettings(context context.Context, orgID string, mutate MutateFunc) (*SecuritySettings, error) {
	var result *SecuritySettings

	err := pgx.BeginTxFunc(context, repository.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		defaults := DefaultSettings(orgID)

		// 1. Lazily create the record with defaults
		_, err := tx.Exec(context, `
			INSERT INTO security.securitysettings (`+settingsColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			ON CONFLICT (orgid) DO NOTHING`,
			orgID,
			defaults.MaxConcurrentSessions,
			defaults.MaxDevicesPerUser,
			defaults.SessionTimeoutMinutes,
			defaults.Enable2FA,
			defaults.Require2FAForRoles,
			defaults.EnableIPRestriction,
			defaults.EnableDeviceRestriction,
			defaults.EnableWatermark,
			defaults.WatermarkTextTemplate,
			defaults.EnableScreenCapturePrevention,
			defaults.EnableRightClickPrevention,
			defaults.VideoProtectionLevel,
			defaults.DownloadRestrictionRoles,
		)
		if err != nil {
			return err
		}

		// 2. Lock the row
		current, err := scanSettings(tx.QueryRow(context,
			`SELECT `+settingsColumns+` FROM security.securitysettings WHERE orgid = $1 FOR UPDATE`, orgID))
		if err != nil {
			return err
		}

		next, err := mutate(*current)
		if err != nil {
			return err
		}

		// 3. Write the full record back
		result, err = scanSettings(tx.QueryRow(context, `
			UPDATE security.securitysettings SET
				maxconcurrentsessions = $2,
				maxdevicesperuser = $3,
				sessiontimeoutminutes = $4,
				enable2fa = $5,
				require2faforroles = $6,
				enableiprestriction = $7,
				enabledevicerestriction = $8,
				enablewatermark = $9,
				watermarktexttemplate = $10,
				enablescreencaptureprevention = $11,
				enablerightclickprevention = $12,
				videoprotectionlevel = $13,
				downloadrestrictionroles = $14,
				updatedat = NOW()
			WHERE orgid = $1
			RETURNING `+settingsColumns,
			orgID,
			next.MaxConcurrentSessions,
			next.MaxDevicesPerUser,
			next.SessionTimeoutMinutes,
			next.Enable2FA,
			next.Require2FAForRoles,
			next.EnableIPRestriction,
			next.EnableDeviceRestriction,
			next.EnableWatermark,
			next.WatermarkTextTemplate,
			next.EnableScreenCapturePrevention,
			next.EnableRightClickPrevention,
			next.VideoProtectionLevel,
			next.DownloadRestrictionRoles,
		))
		return err
	})

	if err != nil {
		return nil, fmt.Errorf("postgres_policy_repo_mutate_settings_failed: %w", err)
	}
	return result, nil
}

// ListRules implements [IPRuleRepository].
func (repository *PostgresRepository) ListRules(context context.Context, orgID string) ([]IPRestriction, error) {
	rows, err := repository.pool.Query(context, `
		SELECT id, orgid, userid, host(ipaddress), host(iprangeend), action, COALESCE(description, ''), COALESCE(createdby, ''), createdat
		FROM security.iprestriction
		WHERE orgid = $1
		ORDER BY createdat ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres_policy_repo_list_rules_failed: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (IPRestriction, error) {
		var rule IPRestriction
		err := row.Scan(&rule.ID, &rule.OrgID, &rule.UserID, &rule.IPAddress, &rule.IPRangeEnd,
			&rule.Action, &rule.Description, &rule.CreatedBy, &rule.CreatedAt)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres_policy_repo_list_rules_failed: %w", err)
	}
	return rules, nil
}

// CreateRule implements [IPRuleRepository].
func (repository *PostgresRepository) CreateRule(context context.Context, rule *IPRestriction) error {
	if rule.ID == "" {
		rule.ID = uuid.New()
	}

	err := repository.pool.QueryRow(context, `
		INSERT INTO security.iprestriction (id, orgid, userid, ipaddress, iprangeend, action, description, createdby)
		VALUES ($1, $2, $3, $4::inet, $5::inet, $6, NULLIF($7, ''), NULLIF($8, ''))
		RETURNING createdat`,
		rule.ID, rule.OrgID, rule.UserID, rule.IPAddress, rule.IPRangeEnd, rule.Action, rule.Description, rule.CreatedBy,
	).Scan(&rule.CreatedAt)
	if err != nil {
		if dberr.IsInvalidInput(err) {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return fmt.Errorf("postgres_policy_repo_create_rule_failed: %w", err)
	}
	return nil
}

// DeleteRule implements [IPRuleRepository].
func (repository *PostgresRepository) DeleteRule(context context.Context, orgID, ruleID string) error {
	tag, err := repository.pool.Exec(context, `DELETE FROM security.iprestriction WHERE id = $1 AND orgid = $2`, ruleID, orgID)
	if dberr.IsInvalidInput(err) {
		return ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres_policy_repo_delete_rule_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
