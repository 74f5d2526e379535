// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/platform/keylock"
	"github.com/taibuivan/warden/pkg/uuid"
)

// Service is the administrative update path and the read side of the policy store.
type Service struct {
	settings SettingsRepository
	rules    IPRuleRepository
	locker   keylock.Locker
	emitter  *audit.Emitter
	logger   *slog.Logger
}

// NewService creates a policy service. A nil locker uses an in-process one.
func NewService(settings SettingsRepository, rules IPRuleRepository, locker keylock.Locker, emitter *audit.Emitter, logger *slog.Logger) *Service {
	if locker == nil {
		locker = keylock.NewLocal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings: settings,
		rules:    rules,
		locker:   locker,
		emitter:  emitter,
		logger:   logger,
	}
}

// # Settings

/*
GetSettings returns the persisted record of orgID or the full default.

Returns:
  - SecuritySettings: Never a field-level mix of stored and default values
  - error: ErrSettingsUnavailable wrapping the storage failure
*/
func (service *Service) GetSettings(context context.Context, orgID string) (SecuritySettings, error) {
	stored, err := service.settings.FindSettings(context, orgID)
	if err != nil {
		if errors.Is(err, ErrSettingsNotFound) {
			return DefaultSettings(orgID), nil
		}
		return SecuritySettings{}, fmt.Errorf("%w: %w", ErrSettingsUnavailable, err)
	}
	return *stored, nil
}

/*
UpdateSettings applies a partial update and returns the full record.

Description: Validates the update, then serializes on the organisation and
delegates to the repository, which creates the record from defaults and applies
the change in one transaction. An empty update returns the current record
without writing.

Parameters:
  - context: context.Context
  - orgID: string
  - actorID: string (administrator, for the audit trail)
  - update: SettingsUpdate

Returns:
  - SecuritySettings: The full record after the update
  - error: Validation or storage failures
*/
func (service *Service) UpdateSettings(context context.Context, orgID, actorID string, update SettingsUpdate) (SecuritySettings, error) {
	if err := update.Validate(); err != nil {
		return SecuritySettings{}, err
	}
	if update.IsEmpty() {
		return service.GetSettings(context, orgID)
	}

	unlock, err := service.locker.Lock(context, "org:"+orgID)
	if err != nil {
		return SecuritySettings{}, err
	}
	defer unlock()

	var previous SecuritySettings
	updated, err := service.settings.MutateSettings(context, orgID, func(current SecuritySettings) (SecuritySettings, error) {
		previous = current.Clone()
		return update.Apply(current), nil
	})
	if err != nil {
		return SecuritySettings{}, err
	}

	fields := update.ChangedFields()
	service.logger.InfoContext(context, "security_settings_updated",
		slog.String("org_id", orgID),
		slog.String("actor_id", actorID),
		slog.Any("fields", fields),
	)

	metadata := map[string]any{"fields": fields, "actor_id": actorID}
	if updated.MaxConcurrentSessions < previous.MaxConcurrentSessions {
		metadata["previous_max_concurrent_sessions"] = previous.MaxConcurrentSessions
	}
	service.emitter.Emit(context, audit.Event{
		EventType: audit.EventSettingsUpdated,
		Category:  audit.CategoryPolicy,
		Severity:  audit.SeverityWarning,
		UserID:    actorID,
		OrgID:     orgID,
		Metadata:  metadata,
	})

	return *updated, nil
}

// # IP Rules

// ListIPRules returns every rule of the organisation.
func (service *Service) ListIPRules(context context.Context, orgID string) ([]IPRestriction, error) {
	rules, err := service.rules.ListRules(context, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettingsUnavailable, err)
	}
	return rules, nil
}

// AddIPRule validates and stores a new rule.
func (service *Service) AddIPRule(context context.Context, rule *IPRestriction) error {
	rule.IPAddress = strings.TrimSpace(rule.IPAddress)
	if rule.IPRangeEnd != nil && strings.TrimSpace(*rule.IPRangeEnd) == "" {
		rule.IPRangeEnd = nil
	}

	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New()
	}

	if err := service.rules.CreateRule(context, rule); err != nil {
		return err
	}

	metadata := map[string]any{
		"rule_id":    rule.ID,
		"action":     rule.Action,
		"ip_address": rule.IPAddress,
	}
	if rule.IPRangeEnd != nil {
		metadata["ip_range_end"] = *rule.IPRangeEnd
	}
	if rule.IsUserScoped() {
		metadata["target_user_id"] = *rule.UserID
	}

	service.emitter.Emit(context, audit.Event{
		EventType: audit.EventIPRuleCreated,
		Category:  audit.CategoryNetwork,
		Severity:  audit.SeverityWarning,
		UserID:    rule.CreatedBy,
		OrgID:     rule.OrgID,
		Metadata:  metadata,
	})
	return nil
}

// RemoveIPRule deletes a rule of the organisation.
func (service *Service) RemoveIPRule(context context.Context, orgID, ruleID, actorID string) error {
	if !uuid.Valid(ruleID) {
		return ErrRuleNotFound
	}
	if err := service.rules.DeleteRule(context, orgID, ruleID); err != nil {
		return err
	}

	service.emitter.Emit(context, audit.Event{
		EventType: audit.EventIPRuleDeleted,
		Category:  audit.CategoryNetwork,
		Severity:  audit.SeverityWarning,
		UserID:    actorID,
		OrgID:     orgID,
		Metadata:  map[string]any{"rule_id": ruleID},
	})
	return nil
}

// EvaluateIP loads the organisation's rules and evaluates ip for userID.
func (service *Service) EvaluateIP(context context.Context, orgID, userID, ip string) (IPVerdict, error) {
	rules, err := service.ListIPRules(context, orgID)
	if err != nil {
		return IPVerdict{}, err
	}
	return EvaluateIP(rules, userID, ip), nil
}
