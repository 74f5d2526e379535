// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository reads the catalogue and memberships from the security schema.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL implementation of both repositories.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

/*
Catalogue loads the catalogue snapshot for an organisation.

Description: All four reads run inside one REPEATABLE READ transaction so the
snapshot never mixes two catalogue versions.

Parameters:
  - context: context.Context
  - orgID: string

Returns:
  - *Snapshot: Read-only catalogue
  - error: Database failures
*/
func (repository *PostgresRepository) Catalogue(context context.Context, orgID string) (*Snapshot, error) {
	snapshot := &Snapshot{
		RoleBindings:   make(map[string][]string),
		CustomRoles:    make(map[string]CustomRole),
		CustomBindings: make(map[string][]string),
	}

	err := pgx.BeginTxFunc(context, repository.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {

		// Catalogue
		rows, err := tx.Query(context, `SELECT name, category, description FROM security.permission`)
		if err != nil {
			return err
		}
		permissions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
			var permission Permission
			err := row.Scan(&permission.Name, &permission.Category, &permission.Description)
			return permission, err
		})
		if err != nil {
			return err
		}
		snapshot.Permissions = permissions

		// Built-in role bindings
		if err := collectPairs(context, tx, `SELECT role, permissionname FROM security.rolepermission`, snapshot.RoleBindings); err != nil {
			return err
		}

		// Custom roles of this organisation only
		rows, err = tx.Query(context, `SELECT id, orgid, name FROM security.customrole WHERE orgid = $1 AND deletedat IS NULL`, orgID)
		if err != nil {
			return err
		}
		customRoles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CustomRole, error) {
			var customRole CustomRole
			err := row.Scan(&customRole.ID, &customRole.OrgID, &customRole.Name)
			return customRole, err
		})
		if err != nil {
			return err
		}
		for _, customRole := range customRoles {
			snapshot.CustomRoles[customRole.ID] = customRole
		}

		// Custom role bindings
		return collectPairs(context, tx, `
			SELECT crp.customroleid, crp.permissionname
			FROM security.customrolepermission crp
			JOIN security.customrole cr ON cr.id = crp.customroleid
			WHERE cr.orgid = $1 AND cr.deletedat IS NULL`, snapshot.CustomBindings, orgID)
	})

	if err != nil {
		return nil, fmt.Errorf("postgres_permission_repo_catalogue_failed: %w", err)
	}

	return snapshot, nil
}

/*
Membership returns the roles a user holds inside an organisation.

Parameters:
  - context: context.Context
  - orgID: string
  - userID: string

Returns:
  - Membership: Hydrated membership
  - error: ErrIdentityUnavailable when the user is unknown, or database failures
*/
func (repository *PostgresRepository) Membership(context context.Context, orgID, userID string) (Membership, error) {
	const query = `
		SELECT
			COALESCE((SELECT array_agg(role) FROM security.userrole WHERE userid = $1 AND orgid = $2), '{}'),
			COALESCE((SELECT array_agg(customroleid) FROM security.usercustomrole WHERE userid = $1 AND orgid = $2), '{}'),
			EXISTS (SELECT 1 FROM security.orgmember WHERE userid = $1 AND orgid = $2)`

	membership := Membership{UserID: userID, OrgID: orgID}
	var isMember bool

	err := repository.pool.QueryRow(context, query, userID, orgID).Scan(
		&membership.Roles,
		&membership.CustomRoleIDs,
		&isMember,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrIdentityUnavailable
		}
		return Membership{}, fmt.Errorf("postgres_permission_repo_membership_failed: %w", err)
	}
	if !isMember {
		return Membership{}, ErrIdentityUnavailable
	}

	return membership, nil
}

// collectPairs scans (key, value) rows into a multimap.
func collectPairs(context context.Context, tx pgx.Tx, query string, target map[string][]string, args ...any) error {
	rows, err := tx.Query(context, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		target[key] = append(target[key], value)
	}
	return rows.Err()
}
