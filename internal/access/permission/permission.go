// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package permission resolves a user's effective permission set.

# Model

A principal holds zero or more built-in roles and zero or more custom
(organisation-defined) roles, all inside one organisation. The catalogue binds
built-in roles and custom roles to permission names. The effective set is the
union of every binding reachable through exactly one level of indirection.

# Resolution

Resolution is a pure function over a [Catalogue] snapshot. It never fails
because of a broken role reference: a dangling custom role or a per-role lookup
error contributes nothing and is reported in [Result.Degraded]. The only hard
failure is an undeterminable membership (see [ErrIdentityUnavailable]).

Checks against the resolved [Set] are O(1) and never trigger a new resolution.
*/
package permission

import (
	"context"
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/taibuivan/warden/internal/platform/ctxkey"
)

// # Errors

var (
	// ErrIdentityUnavailable means the caller's own membership could not be
	// determined. It is never converted into an empty permission set.
	ErrIdentityUnavailable = errors.New("permission: identity unavailable")

	// ErrCatalogueUnavailable means no catalogue snapshot could be loaded at all.
	ErrCatalogueUnavailable = errors.New("permission: catalogue unavailable")

	// ErrUnknownCustomRole is reported for a custom role reference that no longer exists.
	ErrUnknownCustomRole = errors.New("permission: custom role not found")
)

// # Catalogue Entities

// Permission is one catalogued permission. The catalogue is data, not code.
type Permission struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// CustomRole is an organisation-defined role.
type CustomRole struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

// Membership is what the identity provider knows about a principal.
type Membership struct {
	UserID        string   `json:"user_id"`
	OrgID         string   `json:"org_id"`
	Roles         []string `json:"roles"`
	CustomRoleIDs []string `json:"custom_role_ids"`
}

// # Effective Set

// Set is an immutable effective permission set. Membership checks never resolve.
type Set struct {
	names map[string]struct{}
}

// NewSet builds a Set from names, normalizing and de-duplicating them.
func NewSet(names ...string) Set {
	set := Set{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if normalized := Normalize(name); normalized != "" {
			set.names[normalized] = struct{}{}
		}
	}
	return set
}

// Has reports whether name is granted.
func (s Set) Has(name string) bool {
	_, ok := s.names[Normalize(name)]
	return ok
}

// HasAny reports whether at least one of names is granted. It is false for no names.
func (s Set) HasAny(names ...string) bool {
	for _, name := range names {
		if s.Has(name) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of names is granted. It is true for no names.
func (s Set) HasAll(names ...string) bool {
	for _, name := range names {
		if !s.Has(name) {
			return false
		}
	}
	return true
}

// Len returns the number of granted permissions.
func (s Set) Len() int {
	return len(s.names)
}

// Names returns the granted permissions in lexical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Equal reports whether both sets grant exactly the same permissions.
func (s Set) Equal(other Set) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for name := range s.names {
		if _, ok := other.names[name]; !ok {
			return false
		}
	}
	return true
}

// Contains reports whether s is a superset of other.
func (s Set) Contains(other Set) bool {
	for name := range other.names {
		if _, ok := s.names[name]; !ok {
			return false
		}
	}
	return true
}

// Package-level forms of the predicates, for call sites that hold a Set value.

// HasPermission reports whether set grants name.
func HasPermission(set Set, name string) bool { return set.Has(name) }

// HasAny reports whether set and names intersect.
func HasAny(set Set, names []string) bool { return set.HasAny(names...) }

// HasAll reports whether names is a subset of set.
func HasAll(set Set, names []string) bool { return set.HasAll(names...) }

// # Normalization

// Normalize trims and case-folds a role or permission name so that catalogue
// data entered by hand ("Course.Create ") matches code ("course.create").
func Normalize(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// # Request Scope

// WithSet attaches a resolved set to ctx so later checks in the same request
// reuse it.
func WithSet(ctx context.Context, set Set) context.Context {
	return context.WithValue(ctx, ctxkey.KeyPermissions, set)
}

// FromContext returns the set attached by [WithSet].
func FromContext(ctx context.Context) (Set, bool) {
	set, ok := ctx.Value(ctxkey.KeyPermissions).(Set)
	return set, ok
}
