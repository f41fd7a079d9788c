package controller

import (
	"context"
	"fmt"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"
)

// RunBatch reads the source entity of the given kind from the operator tenant
// and runs one provision or deprovision batch over the supplied clients.
func RunBatch(ctx context.Context, engine *reconcile.Engine, operator *c8y.Client, source *c8y.Registry,
	action string, kind domain.EntityKind, sourceID string, clients []*client.TenantClient) (domain.BatchSummary, error) {

	provision := action == "provision"

	switch kind {
	case domain.KindFirmware:
		src, err := source.Firmware.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source firmware %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionFirmware(ctx, operator, src, clients), nil
		}
		return engine.DeprovisionFirmware(ctx, src, clients), nil

	case domain.KindRule:
		src, err := source.Rules.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source rule %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionRule(ctx, src, clients), nil
		}
		return engine.DeprovisionRule(ctx, src, clients), nil

	case domain.KindGlobalRole:
		src, err := source.GlobalRoles.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source global role %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionGlobalRole(ctx, src, clients), nil
		}
		return engine.DeprovisionGlobalRole(ctx, src, clients), nil

	case domain.KindTenantOption:
		src, err := source.TenantOptions.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source tenant option %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionTenantOption(ctx, src, clients), nil
		}
		return engine.DeprovisionTenantOption(ctx, src, clients), nil

	case domain.KindRetentionRule:
		src, err := source.RetentionRules.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source retention rule %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionRetentionRule(ctx, src, clients), nil
		}
		return engine.DeprovisionRetentionRule(ctx, src, clients), nil

	case domain.KindSmartGroup:
		src, err := source.SmartGroups.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source smart group %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionSmartGroup(ctx, src, clients), nil
		}
		return engine.DeprovisionSmartGroup(ctx, src, clients), nil

	case domain.KindRegistrationTemplate:
		src, err := source.RegistrationTemplates.Detail(ctx, sourceID)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("unable to read source registration template %s: %w", sourceID, err)
		}
		if provision {
			return engine.ProvisionRegistrationTemplate(ctx, src, clients), nil
		}
		return engine.DeprovisionRegistrationTemplate(ctx, src, clients), nil
	}

	return domain.BatchSummary{}, fmt.Errorf("unknown entity kind %q", kind)
}

// RecordMissingTenants folds selected tenants without a client into the
// summary as failures, so they never silently vanish from the batch report.
func RecordMissingTenants(summary *domain.BatchSummary, selected []domain.TenantID, clients []*client.TenantClient) {

	have := make(map[domain.TenantID]bool, len(clients))
	for _, tc := range clients {
		have[tc.Tenant] = true
	}

	for _, id := range selected {
		if !have[id] {
			summary.RecordFailure(id, ErrNoCredential)
		}
	}
}
