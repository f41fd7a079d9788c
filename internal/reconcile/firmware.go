package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
)

// binaryCache downloads each source binary at most once per batch and shares
// the payload across the concurrent destination uploads.
type binaryCache struct {
	source *c8y.Client
	mu     sync.Mutex
	loads  map[string]*binaryLoad
}

type binaryLoad struct {
	once sync.Once
	data []byte
	err  error
}

func (c *binaryCache) fetch(ctx context.Context, binaryID string) ([]byte, error) {
	c.mu.Lock()
	load, ok := c.loads[binaryID]
	if !ok {
		load = &binaryLoad{}
		c.loads[binaryID] = load
	}
	c.mu.Unlock()

	load.once.Do(func() {
		load.data, load.err = c.source.DownloadBinary(ctx, binaryID)
	})

	return load.data, load.err
}

// copyFirmwareBinary downloads the firmware image once from the source tenant
// and re-uploads it into each destination tenant, rewriting the firmware's
// binary reference to the fresh copy.  Binaries are never shared by reference
// across tenants.
func copyFirmwareBinary(source *c8y.Client) func(ctx context.Context, entity c8y.Firmware, dst *c8y.Client) (c8y.Firmware, error) {

	cache := &binaryCache{source: source, loads: make(map[string]*binaryLoad)}

	return func(ctx context.Context, entity c8y.Firmware, dst *c8y.Client) (c8y.Firmware, error) {

		if entity.Firmware == nil || entity.Firmware.URL == "" {
			return entity, nil
		}

		if source == nil {
			return entity, fmt.Errorf("firmware %s carries a binary but no source tenant client was supplied", entity.Name)
		}

		binaryID, ok := binaryIDFromURL(entity.Firmware.URL)
		if !ok {
			// External download URL, portable as-is.
			return entity, nil
		}

		data, err := cache.fetch(ctx, binaryID)
		if err != nil {
			return entity, fmt.Errorf("unable to download firmware binary %s: %w", binaryID, err)
		}

		uploaded, err := dst.UploadBinary(ctx, entity.Name, data)
		if err != nil {
			return entity, fmt.Errorf("unable to upload firmware binary into tenant %s: %w", dst.Tenant, err)
		}

		fragment := *entity.Firmware
		fragment.URL = dst.BinaryURL(uploaded.ID)
		entity.Firmware = &fragment

		logger.Log.Debugf("Copied firmware binary %s into tenant %s as %s", binaryID, dst.Tenant, uploaded.ID)

		return entity, nil
	}
}

// deleteFirmwareBinary removes the attached binary payload before the
// firmware record itself is deleted.
func deleteFirmwareBinary(ctx context.Context, entity c8y.Firmware, dst *c8y.Client) error {

	if entity.Firmware == nil || entity.Firmware.URL == "" {
		return nil
	}

	binaryID, ok := binaryIDFromURL(entity.Firmware.URL)
	if !ok {
		return nil
	}

	err := dst.DeleteBinary(ctx, binaryID)
	if err != nil && !c8y.IsNotFound(err) {
		return fmt.Errorf("unable to delete firmware binary %s: %w", binaryID, err)
	}

	return nil
}

// binaryIDFromURL extracts the binary id from a platform-hosted download
// reference.  External URLs yield false.
func binaryIDFromURL(u string) (string, bool) {
	marker := "/inventory/binaries/"
	idx := strings.Index(u, marker)
	if idx < 0 {
		return "", false
	}

	id := u[idx+len(marker):]
	if slash := strings.IndexByte(id, '/'); slash >= 0 {
		id = id[:slash]
	}

	if id == "" {
		return "", false
	}

	return id, true
}
