// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taibuivan/warden/internal/platform/metrics"
)

// Service loads memberships and catalogues and resolves effective sets.
type Service struct {
	catalogues  CatalogueRepository
	memberships MembershipRepository
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewService creates a resolution service.
func NewService(catalogues CatalogueRepository, memberships MembershipRepository, logger *slog.Logger, collector *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalogues:  catalogues,
		memberships: memberships,
		logger:      logger,
		metrics:     collector,
	}
}

/*
Resolve computes the effective permission set of userID inside orgID.

Description: Loads the membership first, then one catalogue snapshot, then
delegates to the pure [Resolve]. Skipped role references are logged at warn
level so operators can repair the catalogue. A catalogue that cannot be loaded
resolves as [Unavailable]: an empty set with every reference degraded.

Parameters:
  - context: context.Context
  - orgID: string
  - userID: string

Returns:
  - Result: Effective set plus degradations
  - error: ErrIdentityUnavailable (wrapping the cause)
*/
func (service *Service) Resolve(context context.Context, orgID, userID string) (Result, error) {
	membership, err := service.memberships.Membership(context, orgID, userID)
	if err != nil {
		service.metrics.Resolution(false, 0)
		return Result{}, classify(ErrIdentityUnavailable, err)
	}

	return service.ResolveMembership(context, membership)
}

// ResolveMembership resolves an already known membership, for example one
// carried in verified token claims.
func (service *Service) ResolveMembership(context context.Context, membership Membership) (Result, error) {
	var catalogue Catalogue
	snapshot, err := service.catalogues.Catalogue(context, membership.OrgID)
	switch {
	case err != nil:
		service.logger.ErrorContext(context, "permission_catalogue_unavailable",
			slog.String("org_id", membership.OrgID),
			slog.Any("error", err),
		)
		catalogue = Unavailable(classify(ErrCatalogueUnavailable, err))
	case snapshot == nil:
		catalogue = Unavailable(ErrCatalogueUnavailable)
	default:
		catalogue = snapshot
	}

	result, err := Resolve(membership, catalogue)
	if err != nil {
		service.metrics.Resolution(false, 0)
		return Result{}, err
	}

	for _, degradation := range result.Degraded {
		service.logger.WarnContext(context, "permission_role_degraded",
			slog.String("user_id", membership.UserID),
			slog.String("org_id", membership.OrgID),
			slog.String("kind", degradation.Kind),
			slog.String("ref", degradation.Ref),
			slog.Any("error", degradation.Err),
		)
	}
	service.metrics.Resolution(true, len(result.Degraded))

	return result, nil
}

// Catalogue returns the permissions known to an organisation.
func (service *Service) Catalogue(context context.Context, orgID string) ([]Permission, error) {
	snapshot, err := service.catalogues.Catalogue(context, orgID)
	if err != nil {
		return nil, classify(ErrCatalogueUnavailable, err)
	}
	return snapshot.Permissions, nil
}

// classify wraps a storage error under sentinel unless it already is one.
func classify(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
