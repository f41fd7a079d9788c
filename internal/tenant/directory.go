package tenant

import (
	"context"
	"net/url"
	"sync"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
)

// Directory lists and caches the full set of subtenants.  The snapshot is
// immutable once taken and only replaced by Refresh or dropped by
// Invalidate.  Concurrent readers before the first load share one page walk.
type Directory struct {
	platform *c8y.Client
	pageSize int

	mu       sync.Mutex
	loading  chan struct{}
	snapshot []c8y.Tenant
	loadErr  error
}

func NewDirectory(platform *c8y.Client, pageSize int) *Directory {
	return &Directory{
		platform: platform,
		pageSize: pageSize,
	}
}

// List returns domain snapshots of every subtenant, read through the cache.
func (d *Directory) List(ctx context.Context) ([]domain.Tenant, error) {
	raw, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	tenants := make([]domain.Tenant, 0, len(raw))
	for _, t := range raw {
		tenants = append(tenants, t.ToDomain())
	}

	return tenants, nil
}

// Snapshot returns the cached wire representations, loading them on first
// use.  The wire form retains application subscription references, which the
// credential broker needs to skip already-subscribed tenants.
func (d *Directory) Snapshot(ctx context.Context) ([]c8y.Tenant, error) {

	d.mu.Lock()
	if d.snapshot != nil {
		defer d.mu.Unlock()
		return d.snapshot, nil
	}

	if d.loading != nil {
		loading := d.loading
		d.mu.Unlock()

		select {
		case <-loading:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		return d.snapshot, d.loadErr
	}

	loading := make(chan struct{})
	d.loading = loading
	d.mu.Unlock()

	tenants, err := d.load(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = tenants
	d.loadErr = err
	d.loading = nil
	close(loading)

	return tenants, err
}

// Refresh drops the snapshot and reloads it.
func (d *Directory) Refresh(ctx context.Context) error {
	d.Invalidate()
	_, err := d.Snapshot(ctx)
	return err
}

func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = nil
	d.loadErr = nil
}

func (d *Directory) load(ctx context.Context) ([]c8y.Tenant, error) {

	logger.Log.Debug("Loading subtenant directory")

	query := c8y.PageFilter{Query: url.Values{"withApps": []string{"true"}}}

	tenants, err := paging.Collect(ctx, d.pageSize, query,
		func(ctx context.Context, filter c8y.PageFilter) ([]c8y.Tenant, *c8y.PageStatistics, error) {
			return d.platform.ListTenants(ctx, filter)
		})
	if err != nil {
		logger.LogError("Unable to enumerate subtenants", err)
		return nil, err
	}

	logger.Log.Infof("Subtenant directory loaded: %d tenants", len(tenants))

	return tenants, nil
}
