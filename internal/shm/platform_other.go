//go:build !linux

package shm

import (
	"context"
)

// MapRegion maps or creates a shared memory region.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion unmaps and closes the shared memory region.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	return ErrUnsupported
}

func canCreateOnDevShm(size uint64, path string) bool {
	return true
}
