// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/taibuivan/warden/pkg/pointer"
)

// # Data Access Contracts

// MutateFunc derives the next settings record from the current one. Current is
// [DefaultSettings] when the organisation has no record yet.
type MutateFunc func(current SecuritySettings) (SecuritySettings, error)

// SettingsRepository persists one [SecuritySettings] record per organisation.
type SettingsRepository interface {

	// FindSettings returns the stored record or [ErrSettingsNotFound].
	FindSettings(context context.Context, orgID string) (*SecuritySettings, error)

	/*
		MutateSettings reads the current record under an exclusive row lock,
		applies mutate and writes the result in the same transaction.

		Description: Inserting a missing record and applying the change are one
		atomic step; a failing mutate leaves storage untouched.

		Returns:
		  - *SecuritySettings: The full persisted record
		  - error: The mutate error or a storage failure
	*/
	MutateSettings(context context.Context, orgID string, mutate MutateFunc) (*SecuritySettings, error)
}

// IPRuleRepository persists IP restriction rules.
type IPRuleRepository interface {
	ListRules(context context.Context, orgID string) ([]IPRestriction, error)
	CreateRule(context context.Context, rule *IPRestriction) error

	// DeleteRule returns [ErrRuleNotFound] when nothing was removed.
	DeleteRule(context context.Context, orgID, ruleID string) error
}

// # In-Memory Implementation

// MemoryRepository keeps settings and rules in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	settings map[string]SecuritySettings
	rules    map[string][]IPRestriction
	now      func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		settings: make(map[string]SecuritySettings),
		rules:    make(map[string][]IPRestriction),
		now:      time.Now,
	}
}

// FindSettings implements [SettingsRepository].
func (repository *MemoryRepository) FindSettings(_ context.Context, orgID string) (*SecuritySettings, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	stored, ok := repository.settings[orgID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	return pointer.To(stored.Clone()), nil
}

// MutateSettings implements [SettingsRepository].
func (repository *MemoryRepository) MutateSettings(_ context.Context, orgID string, mutate MutateFunc) (*SecuritySettings, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	current, ok := repository.settings[orgID]
	if !ok {
		current = DefaultSettings(orgID)
	}

	next, err := mutate(current.Clone())
	if err != nil {
		return nil, err
	}
	next.OrgID = orgID
	next.IsDefault = false
	next.UpdatedAt = pointer.To(repository.now().UTC())

	repository.settings[orgID] = next.Clone()
	return &next, nil
}

// ListRules implements [IPRuleRepository].
func (repository *MemoryRepository) ListRules(_ context.Context, orgID string) ([]IPRestriction, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()
	return slices.Clone(repository.rules[orgID]), nil
}

// CreateRule implements [IPRuleRepository].
func (repository *MemoryRepository) CreateRule(_ context.Context, rule *IPRestriction) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = repository.now().UTC()
	}
	repository.rules[rule.OrgID] = append(repository.rules[rule.OrgID], *rule)
	return nil
}

// DeleteRule implements [IPRuleRepository].
func (repository *MemoryRepository) DeleteRule(_ context.Context, orgID, ruleID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	rules := repository.rules[orgID]
	index := slices.IndexFunc(rules, func(rule IPRestriction) bool { return rule.ID == ruleID })
	if index < 0 {
		return ErrRuleNotFound
	}
	repository.rules[orgID] = slices.Delete(slices.Clone(rules), index, index+1)
	return nil
}
