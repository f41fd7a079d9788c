package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
)

// Datasource serves memoized multi-tenant entity listings.  Identical
// concurrent queries share one in-flight page walk; mutations routed through
// the reconciliation engine invalidate the affected kind's cache before the
// mutation reports success.
type Datasource struct {
	pageSize int
	memos    map[domain.EntityKind]*paging.Memo[interface{}]
}

func NewDatasource(pageSize int, ttl time.Duration, flusher *paging.MutationFlusher) *Datasource {

	memos := make(map[domain.EntityKind]*paging.Memo[interface{}], len(domain.AllEntityKinds))
	for _, kind := range domain.AllEntityKinds {
		memo := paging.NewMemo[interface{}](ttl, nil)
		memos[kind] = memo
		flusher.Register(kind, memo)
	}

	return &Datasource{
		pageSize: pageSize,
		memos:    memos,
	}
}

// List returns the merged entity listing for one kind across all session
// tenants, plus the count of tenants whose contribution was dropped due to
// read failures.
func (d *Datasource) List(ctx context.Context, kind domain.EntityKind, clients []*client.TenantClient) ([]interface{}, int, error) {

	memo, ok := d.memos[kind]
	if !ok {
		return nil, 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	return memo.Get(ctx, scopeKey(kind, clients), func(ctx context.Context) ([]interface{}, int, error) {
		items, dropped := d.collect(ctx, kind, clients)
		return items, dropped, nil
	})
}

func (d *Datasource) collect(ctx context.Context, kind domain.EntityKind, clients []*client.TenantClient) ([]interface{}, int) {

	operation := "list_" + strings.ReplaceAll(string(kind), "-", "_")

	switch kind {
	case domain.KindFirmware:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.Firmware] { return tc.APIs.Firmware.List })
		return box(items), dropped
	case domain.KindRule:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.Rule] { return tc.APIs.Rules.List })
		return box(items), dropped
	case domain.KindGlobalRole:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.GlobalRole] { return tc.APIs.GlobalRoles.List })
		return box(items), dropped
	case domain.KindTenantOption:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.TenantOption] { return tc.APIs.TenantOptions.List })
		return box(items), dropped
	case domain.KindRetentionRule:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.RetentionRule] {
				return tc.APIs.RetentionRules.List
			})
		return box(items), dropped
	case domain.KindSmartGroup:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.SmartGroup] { return tc.APIs.SmartGroups.List })
		return box(items), dropped
	case domain.KindRegistrationTemplate:
		items, dropped := paging.CollectAcrossTenants(ctx, operation, clients, d.pageSize, c8y.PageFilter{},
			func(tc *client.TenantClient) paging.PageFetcher[c8y.RegistrationTemplate] {
				return tc.APIs.RegistrationTemplates.List
			})
		return box(items), dropped
	}

	return nil, 0
}

// scopeKey fingerprints the query so that only identical tenant scopes share
// a memoized result.
func scopeKey(kind domain.EntityKind, clients []*client.TenantClient) string {

	tenants := make([]string, 0, len(clients))
	for _, tc := range clients {
		tenants = append(tenants, string(tc.Tenant))
	}
	sort.Strings(tenants)

	return string(kind) + "|" + strings.Join(tenants, ",")
}

func box[T any](items []T) []interface{} {
	boxed := make([]interface{}, 0, len(items))
	for _, item := range items {
		boxed = append(boxed, item)
	}
	return boxed
}
