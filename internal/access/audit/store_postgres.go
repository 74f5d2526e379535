// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/warden/internal/platform/dberr"
)

// PostgresRepository persists audit records in the security schema.
//
// Rows are only ever inserted; the single UPDATE fills duration_seconds on a
// content entry, which is the one field the caller supplies after the fact.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL audit sink.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Name implements [Sink].
func (repository *PostgresRepository) Name() string { return "postgres" }

/*
Record appends a row to security.auditlog.

Parameters:
  - context: context.Context
  - event: Event

Returns:
  - error: Persistence failures
*/
func (repository *PostgresRepository) Record(context context.Context, event Event) error {
	const query = `
		INSERT INTO security.auditlog (
			id, eventtype, eventcategory, severity, userid, orgid, ipaddress, devicefingerprint, metadata, createdat
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("postgres_audit_repo_marshal_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		event.ID,
		event.EventType,
		string(event.Category),
		string(event.Severity),
		event.UserID,
		event.OrgID,
		event.IPAddress,
		event.DeviceFingerprint,
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_audit_repo_record_failed: %w", err)
	}
	return nil
}

/*
RecordContentAccess appends a row to security.contentaccesslog.

Parameters:
  - context: context.Context
  - entry: ContentAccess

Returns:
  - error: Persistence failures
*/
func (repository *PostgresRepository) RecordContentAccess(context context.Context, entry ContentAccess) error {
	const query = `
		INSERT INTO security.contentaccesslog (
			id, userid, orgid, contentid, contenttype, accesstype, allowed, reason, watermarkapplied, durationseconds, ipaddress, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)`

	_, err := repository.pool.Exec(context, query,
		entry.ID,
		entry.UserID,
		entry.OrgID,
		entry.ContentID,
		entry.ContentType,
		entry.AccessType,
		entry.Allowed,
		entry.Reason,
		entry.WatermarkApplied,
		entry.DurationSeconds,
		entry.IPAddress,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_audit_repo_content_failed: %w", err)
	}
	return nil
}

/*
SetDuration fills in the viewing duration of a content access entry.

Parameters:
  - context: context.Context
  - userID: string (owner of the entry)
  - id: string
  - seconds: int

Returns:
  - error: ErrContentAccessNotFound (also for another user's entry) or persistence failures
*/
func (repository *PostgresRepository) SetDuration(context context.Context, userID, id string, seconds int) error {
	const query = "UPDATE security.contentaccesslog SET durationseconds = $2 WHERE id = $1 AND userid = $3"

	tag, err := repository.pool.Exec(context, query, id, seconds, userID)
	if dberr.IsInvalidInput(err) {
		return ErrContentAccessNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres_audit_repo_duration_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContentAccessNotFound
	}
	return nil
}
