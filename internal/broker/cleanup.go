package broker

import (
	"context"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/fanout"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"

	"github.com/hashicorp/go-multierror"
)

// CleanupReport counts the per-tenant outcomes of the teardown.  Unsubscribe
// failures are collected rather than silently dropped, even though the caller
// typically logs and continues.
type CleanupReport struct {
	Unsubscribed   int
	Failed         int
	IdentityExists bool
}

// Cleanup unsubscribes the service identity from every currently subscribed
// tenant (best effort, per-tenant failures do not block the others), deletes
// the identity and clears the credential cache.
func (b *Broker) Cleanup(ctx context.Context) (CleanupReport, error) {

	var report CleanupReport
	defer b.Invalidate()

	identity, err := b.platform.FindApplicationByName(ctx, b.cfg.ServiceIdentityName)
	if err != nil {
		return report, err
	}
	if identity == nil {
		logger.Log.Info("No service identity found, nothing to clean up")
		return report, nil
	}
	report.IdentityExists = true

	if err := b.directory.Refresh(ctx); err != nil {
		return report, err
	}

	tenants, err := b.directory.Snapshot(ctx)
	if err != nil {
		return report, err
	}

	targets := make([]tenantTarget, 0)
	for _, t := range tenants {
		if t.SubscribedTo(identity.ID) {
			targets = append(targets, tenantTarget{tenant: t})
		}
	}

	var errs *multierror.Error

	result := fanout.Run(ctx, "unsubscribe_tenant", targets, func(ctx context.Context, target tenantTarget) (struct{}, error) {
		err := b.platform.UnsubscribeTenant(ctx, target.tenant.ID, identity.ID)
		if err != nil && c8y.IsNotFound(err) {
			err = nil
		}
		return struct{}{}, err
	})

	report.Unsubscribed, report.Failed = result.Counts()
	for tenant, err := range result.Failures() {
		errs = multierror.Append(errs, &tenantError{tenant: tenant, err: err})
	}

	if err := b.platform.DeleteApplication(ctx, identity.ID); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		logger.Log.Infof("Deleted service identity %s (%s)", identity.Name, identity.ID)
		report.IdentityExists = false
	}

	return report, errs.ErrorOrNil()
}

type tenantError struct {
	tenant domain.TenantID
	err    error
}

func (e *tenantError) Error() string {
	return "tenant " + string(e.tenant) + ": " + e.err.Error()
}

func (e *tenantError) Unwrap() error {
	return e.err
}
