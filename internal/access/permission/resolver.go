// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForeignCustomRole is reported for a custom role owned by another organisation.
var ErrForeignCustomRole = errors.New("permission: custom role belongs to another organisation")

// # Catalogue Contract

// Catalogue is a read-only view of the permission catalogue and its bindings.
//
// Each lookup is independent so that one unreadable binding cannot poison the
// others. Implementations must be safe for concurrent reads.
type Catalogue interface {
	// RolePermissions returns the permissions bound to a built-in role.
	RolePermissions(role string) ([]string, error)

	// CustomRole returns the custom role or [ErrUnknownCustomRole].
	CustomRole(id string) (CustomRole, error)

	// CustomRolePermissions returns the permissions bound to a custom role.
	CustomRolePermissions(customRoleID string) ([]string, error)
}

// # Resolution Result

// Degradation describes one role reference that contributed nothing.
type Degradation struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
	Err  error  `json:"-"`
}

const (
	DegradedBuiltInRole = "role"
	DegradedCustomRole  = "custom_role"
)

// Result is the outcome of one resolution.
type Result struct {
	Set      Set
	Degraded []Degradation
}

// # Resolution

/*
Resolve computes the effective permission set of a principal.

Description: Two independent stages over the catalogue: built-in roles to their
bindings, then custom roles to theirs. Any reference that cannot be followed is
recorded in [Result.Degraded] and skipped.

Parameters:
  - membership: Membership (who the principal is and what it holds)
  - catalogue: Catalogue (read-only snapshot)

Returns:
  - Result: Effective set plus the skipped references
  - error: ErrIdentityUnavailable only

A nil catalogue resolves as [Unavailable], so every reference is degraded.
*/
func Resolve(membership Membership, catalogue Catalogue) (Result, error) {
	if strings.TrimSpace(membership.UserID) == "" || strings.TrimSpace(membership.OrgID) == "" {
		return Result{}, ErrIdentityUnavailable
	}
	if catalogue == nil {
		catalogue = Unavailable(ErrCatalogueUnavailable)
	}

	granted := make(map[string]struct{})
	var degraded []Degradation

	grant := func(names []string) {
		for _, name := range names {
			if normalized := Normalize(name); normalized != "" {
				granted[normalized] = struct{}{}
			}
		}
	}

	// ── 1. Built-in roles ─────────────────────────────────────────────────
	for _, role := range membership.Roles {
		role = Normalize(role)
		if role == "" {
			continue
		}
		names, err := catalogue.RolePermissions(role)
		if err != nil {
			degraded = append(degraded, Degradation{Kind: DegradedBuiltInRole, Ref: role, Err: err})
			continue
		}
		grant(names)
	}

	// ── 2. Custom roles (one level of indirection, no recursion) ─────────
	for _, id := range membership.CustomRoleIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		customRole, err := catalogue.CustomRole(id)
		if err != nil {
			degraded = append(degraded, Degradation{Kind: DegradedCustomRole, Ref: id, Err: err})
			continue
		}
		if customRole.OrgID != membership.OrgID {
			degraded = append(degraded, Degradation{Kind: DegradedCustomRole, Ref: id, Err: ErrForeignCustomRole})
			continue
		}

		names, err := catalogue.CustomRolePermissions(id)
		if err != nil {
			degraded = append(degraded, Degradation{Kind: DegradedCustomRole, Ref: id, Err: err})
			continue
		}
		grant(names)
	}

	return Result{Set: Set{names: granted}, Degraded: degraded}, nil
}

// ResolveEffectivePermissions is [Resolve] without the diagnostics.
func ResolveEffectivePermissions(membership Membership, catalogue Catalogue) (Set, error) {
	result, err := Resolve(membership, catalogue)
	if err != nil {
		return Set{}, err
	}
	return result.Set, nil
}

// # Unavailable Catalogue

type unavailable struct{ err error }

// Unavailable returns an empty [Catalogue] whose every lookup fails with err.
// Resolving against it grants nothing and degrades each role reference.
func Unavailable(err error) Catalogue {
	return unavailable{err: err}
}

func (catalogue unavailable) RolePermissions(string) ([]string, error) {
	return nil, catalogue.err
}

func (catalogue unavailable) CustomRole(string) (CustomRole, error) {
	return CustomRole{}, catalogue.err
}

func (catalogue unavailable) CustomRolePermissions(string) ([]string, error) {
	return nil, catalogue.err
}

// # Snapshot Catalogue

// Snapshot is an in-memory [Catalogue]. Once built it must not be mutated;
// replace it wholesale to publish a new catalogue version.
type Snapshot struct {
	Permissions    []Permission
	RoleBindings   map[string][]string
	CustomRoles    map[string]CustomRole
	CustomBindings map[string][]string
}

// RolePermissions implements [Catalogue].
// Keys that fold to the same role are merged.
func (snapshot *Snapshot) RolePermissions(role string) ([]string, error) {
	role = Normalize(role)

	var names []string
	for key, bound := range snapshot.RoleBindings {
		if Normalize(key) == role {
			names = append(names, bound...)
		}
	}
	return names, nil
}

// CustomRole implements [Catalogue].
func (snapshot *Snapshot) CustomRole(id string) (CustomRole, error) {
	customRole, ok := snapshot.CustomRoles[id]
	if !ok {
		return CustomRole{}, fmt.Errorf("%w: %s", ErrUnknownCustomRole, id)
	}
	return customRole, nil
}

// CustomRolePermissions implements [Catalogue].
func (snapshot *Snapshot) CustomRolePermissions(customRoleID string) ([]string, error) {
	return snapshot.CustomBindings[customRoleID], nil
}
