package paging

import (
	"context"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/fanout"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// CollectAcrossTenants runs a full page walk on every tenant concurrently and
// concatenates the successful contributions.  A tenant-level failure degrades
// that tenant's contribution to empty rather than failing the merged read,
// but the number of dropped tenants stays observable to the caller.
func CollectAcrossTenants[T any](
	ctx context.Context,
	operation string,
	clients []*client.TenantClient,
	pageSize int,
	query c8y.PageFilter,
	fetch func(*client.TenantClient) PageFetcher[T],
) ([]T, int) {

	result := fanout.Run(ctx, operation, clients, func(ctx context.Context, tc *client.TenantClient) ([]T, error) {
		return Collect(ctx, pageSize, query, fetch(tc))
	})

	var merged []T
	for _, items := range result.Successes() {
		merged = append(merged, items...)
	}

	dropped := 0
	for tenant, err := range result.Failures() {
		dropped++
		logger.Log.WithFields(logrus.Fields{
			"operation": operation,
			"tenant":    tenant,
			"error":     err}).Warn("Dropping tenant contribution from merged read")
	}

	return merged, dropped
}
