package broker

import (
	"context"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
)

// StaticConsent answers the consent prompt with a fixed decision.  Used by
// the management API, where consent arrives as part of the request.
type StaticConsent bool

func (c StaticConsent) RequestConsent(ctx context.Context) (bool, error) {
	return bool(c), nil
}

// StaticSelection answers the tenant-subset prompt with a fixed list.  An
// empty list selects every candidate.
type StaticSelection []domain.TenantID

func (s StaticSelection) RequestTenantSubset(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error) {
	if len(s) == 0 {
		all := make([]domain.TenantID, 0, len(candidates))
		for _, candidate := range candidates {
			all = append(all, candidate.ID)
		}
		return all, nil
	}

	return []domain.TenantID(s), nil
}
