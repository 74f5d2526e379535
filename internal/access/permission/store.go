// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"context"
	"sync"

	"github.com/taibuivan/warden/internal/platform/constants"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// # Data Access Contracts

// CatalogueRepository loads a consistent catalogue snapshot for one organisation.
type CatalogueRepository interface {

	/*
		Catalogue returns the permissions, built-in role bindings and the
		organisation's custom roles with their bindings.

		Parameters:
		  - context: context.Context
		  - orgID: string

		Returns:
		  - *Snapshot: Read-only catalogue
		  - error: Storage failures (the caller maps them to ErrCatalogueUnavailable)
	*/
	Catalogue(context context.Context, orgID string) (*Snapshot, error)
}

// MembershipRepository returns what a principal holds inside an organisation.
type MembershipRepository interface {

	/*
		Membership returns the built-in roles and custom role memberships.

		Parameters:
		  - context: context.Context
		  - orgID: string
		  - userID: string

		Returns:
		  - Membership: Hydrated membership
		  - error: Lookup failures (the caller maps them to ErrIdentityUnavailable)
	*/
	Membership(context context.Context, orgID, userID string) (Membership, error)
}

// # In-Memory Implementation

// MemoryRepository serves a fixed catalogue and membership table. It backs
// single-process deployments without a database, and tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	snapshot    *Snapshot
	memberships map[string]Membership
}

// NewMemoryRepository creates a repository around snapshot.
func NewMemoryRepository(snapshot *Snapshot) *MemoryRepository {
	return &MemoryRepository{snapshot: snapshot, memberships: make(map[string]Membership)}
}

// Publish atomically replaces the catalogue snapshot.
func (repository *MemoryRepository) Publish(snapshot *Snapshot) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.snapshot = snapshot
}

// SetMembership records the membership of a principal.
func (repository *MemoryRepository) SetMembership(membership Membership) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.memberships[membership.OrgID+"/"+membership.UserID] = membership
}

// Catalogue implements [CatalogueRepository].
func (repository *MemoryRepository) Catalogue(_ context.Context, _ string) (*Snapshot, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	if repository.snapshot == nil {
		return nil, ErrCatalogueUnavailable
	}
	return repository.snapshot, nil
}

// Membership implements [MembershipRepository].
func (repository *MemoryRepository) Membership(_ context.Context, orgID, userID string) (Membership, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	membership, ok := repository.memberships[orgID+"/"+userID]
	if !ok {
		return Membership{}, ErrIdentityUnavailable
	}
	return membership, nil
}

// BuiltInSnapshot is the catalogue seeded by the initial migration. It backs
// the in-memory repository when no database is configured.
func BuiltInSnapshot() *Snapshot {
	return &Snapshot{
		Permissions: []Permission{
			{Name: constants.PermissionSecurityView, Category: "security", Description: "Read security settings, IP rules and devices"},
			{Name: constants.PermissionSecurityManage, Category: "security", Description: "Change security settings, IP rules and devices"},
			{Name: "content.view", Category: "content", Description: "View protected content"},
			{Name: "content.download", Category: "content", Description: "Download protected content"},
		},
		RoleBindings: map[string][]string{
			string(sec.RoleAdmin):   {constants.PermissionSecurityView, constants.PermissionSecurityManage, "content.view", "content.download"},
			string(sec.RoleManager): {constants.PermissionSecurityView, "content.view", "content.download"},
			string(sec.RoleTrainer): {"content.view", "content.download"},
			string(sec.RoleStudent): {"content.view"},
		},
		CustomRoles:    map[string]CustomRole{},
		CustomBindings: map[string][]string{},
	}
}
