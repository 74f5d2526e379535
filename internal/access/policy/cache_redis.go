// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/warden/internal/platform/constants"
)

// notFoundMarker caches the absence of a record so default organisations do not
// hit the database on every admission.
const notFoundMarker = "-"

// CachedSettingsRepository is a read-through Redis cache in front of a
// [SettingsRepository].
//
// Writers SET the committed record; readers populate misses with SETNX, so a
// reader holding a pre-commit value can never overwrite a newer one. Redis
// failures fall back to the underlying repository.
type CachedSettingsRepository struct {
	next   SettingsRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSettingsRepository wraps next with a Redis cache of the given TTL.
func NewCachedSettingsRepository(next SettingsRepository, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedSettingsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSettingsRepository{next: next, client: client, ttl: ttl, logger: logger}
}

func settingsKey(orgID string) string {
	return constants.RedisPrefixSettings + orgID
}

// FindSettings implements [SettingsRepository].
func (cache *CachedSettingsRepository) FindSettings(context context.Context, orgID string) (*SecuritySettings, error) {
	raw, err := cache.client.Get(context, settingsKey(orgID)).Result()
	switch {
	case err == nil:
		if raw == notFoundMarker {
			return nil, ErrSettingsNotFound
		}
		var settings SecuritySettings
		if jsonErr := json.Unmarshal([]byte(raw), &settings); jsonErr == nil {
			return &settings, nil
		}
		cache.logger.WarnContext(context, "settings_cache_corrupt", slog.String("org_id", orgID))
	case !errors.Is(err, redis.Nil):
		cache.logger.WarnContext(context, "settings_cache_unavailable",
			slog.String("org_id", orgID),
			slog.Any("error", err),
		)
		return cache.next.FindSettings(context, orgID)
	}

	settings, err := cache.next.FindSettings(context, orgID)
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		cache.fill(context, orgID, notFoundMarker)
	case err == nil:
		if payload, jsonErr := json.Marshal(settings); jsonErr == nil {
			cache.fill(context, orgID, string(payload))
		}
	}
	return settings, err
}

// MutateSettings implements [SettingsRepository].
func (cache *CachedSettingsRepository) MutateSettings(context context.Context, orgID string, mutate MutateFunc) (*SecuritySettings, error) {
	settings, err := cache.next.MutateSettings(context, orgID, mutate)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(settings)
	if err == nil {
		err = cache.client.Set(context, settingsKey(orgID), payload, cache.ttl).Err()
	}
	if err != nil {
		// A stale entry would outlive the write, so drop it instead.
		cache.client.Del(context, settingsKey(orgID))
		cache.logger.WarnContext(context, "settings_cache_write_failed",
			slog.String("org_id", orgID),
			slog.Any("error", err),
		)
	}
	return settings, nil
}

func (cache *CachedSettingsRepository) fill(context context.Context, orgID, value string) {
	if err := cache.client.SetNX(context, settingsKey(orgID), value, cache.ttl).Err(); err != nil {
		cache.logger.WarnContext(context, "settings_cache_fill_failed",
			slog.String("org_id", orgID),
			slog.Any("error", err),
		)
	}
}
