package reconcile

import (
	"context"
	"net/url"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/fanout"
)

func registrationTemplateSpec() Spec[c8y.RegistrationTemplate] {
	return Spec[c8y.RegistrationTemplate]{
		Kind: domain.KindRegistrationTemplate,
		Query: func(src c8y.RegistrationTemplate) url.Values {
			return inventoryNameQuery(src.Name)
		},
		Matches: func(src c8y.RegistrationTemplate, candidate c8y.RegistrationTemplate) bool {
			return src.Name == candidate.Name
		},
		Sanitize: sanitizeTemplate,
		ID: func(entity c8y.RegistrationTemplate) string {
			return entity.ID
		},
	}
}

func sanitizeTemplate(src c8y.RegistrationTemplate) c8y.RegistrationTemplate {
	sanitized := src
	sanitized.ID = ""
	sanitized.Owner = ""
	sanitized.CreationTime = ""
	sanitized.LastUpdated = ""
	sanitized.SourceID = src.ID
	return sanitized
}

// upsertTemplate is the external-identity variant of create-or-update: the
// destination entity is resolved through the secondary index keyed by the
// source id.  Found entries are updated in place; absent ones are created
// first and then registered in the index, so repeated runs never register the
// index twice.
func upsertTemplate(ctx context.Context, tc *client.TenantClient, src c8y.RegistrationTemplate, pageSize int) (Outcome, error) {

	entry, err := tc.Platform.FindByExternalID(ctx, c8y.RegistrationTemplateExternalIDType, src.ID)
	if err != nil {
		return OutcomeUnchanged, err
	}

	sanitized := sanitizeTemplate(src)

	if entry != nil {
		if _, err := tc.APIs.RegistrationTemplates.Update(ctx, entry.ManagedObject.ID, sanitized); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeUpdated, nil
	}

	created, err := tc.APIs.RegistrationTemplates.Create(ctx, sanitized)
	if err != nil {
		return OutcomeUnchanged, err
	}

	if err := tc.Platform.RegisterExternalID(ctx, created.ID, c8y.RegistrationTemplateExternalIDType, src.ID); err != nil {
		return OutcomeUnchanged, err
	}

	return OutcomeCreated, nil
}

func (e *Engine) ProvisionRegistrationTemplate(ctx context.Context, src c8y.RegistrationTemplate, clients []*client.TenantClient) domain.BatchSummary {

	result := fanout.Run(ctx, "provision_registration_template", clients,
		func(ctx context.Context, tc *client.TenantClient) (Outcome, error) {
			return upsertTemplate(ctx, tc, src, e.pageSize)
		})

	summary := foldOutcomes(result)

	e.finishMutation(ctx, domain.KindRegistrationTemplate, "provision", src.ID, len(clients), summary)

	return summary
}

func (e *Engine) DeprovisionRegistrationTemplate(ctx context.Context, src c8y.RegistrationTemplate, clients []*client.TenantClient) domain.BatchSummary {

	result := fanout.Run(ctx, "deprovision_registration_template", clients,
		func(ctx context.Context, tc *client.TenantClient) (Outcome, error) {

			entry, err := tc.Platform.FindByExternalID(ctx, c8y.RegistrationTemplateExternalIDType, src.ID)
			if err != nil {
				return OutcomeAbsent, err
			}

			if entry != nil {
				if err := tc.APIs.RegistrationTemplates.Delete(ctx, entry.ManagedObject.ID); err != nil && !c8y.IsNotFound(err) {
					return OutcomeAbsent, err
				}
				return OutcomeDeleted, nil
			}

			// No index entry; fall back to the natural key lookup.
			return DeleteIfPresent(ctx, tc.APIs.RegistrationTemplates, registrationTemplateSpec(), src, e.pageSize)
		})

	summary := foldOutcomes(result)

	e.finishMutation(ctx, domain.KindRegistrationTemplate, "deprovision", src.ID, len(clients), summary)

	return summary
}
