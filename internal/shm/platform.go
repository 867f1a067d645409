// Package shm contains platform-specific helpers for mapping shared memory regions.
package shm

import (
	"errors"
)

const defaultDir = "/dev/shm"

var (
	// ErrUnsupported is returned on platforms without a mapping implementation.
	ErrUnsupported = errors.New("shm: shared memory mapping not supported on this platform")
	// ErrNoSpace is returned when the shm directory cannot hold the region.
	ErrNoSpace = errors.New("shm: not enough space left on shared memory device")
	// ErrInvalidSize is returned for non-positive sizes.
	ErrInvalidSize = errors.New("shm: invalid region size")
	// ErrRegionTooSmall is returned when an existing backing file is shorter
	// than the requested mapping and Create is not set.
	ErrRegionTooSmall = errors.New("shm: backing file is smaller than the requested size")
)

// MappedRegion represents a memory-mapped shared region. The fields are
// owned by MapRegion and UnmapRegion.
type MappedRegion struct {
	Addr []byte
	Name string
	Path string // empty for memfd regions
	Fd   int

	created bool
	unlink  bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	Size int
	// Create creates the backing file if it does not exist.
	Create bool
	// Dir is where the backing file lives. Defaults to /dev/shm.
	Dir string
	// MemFd backs the region with an anonymous memfd instead of a file.
	MemFd bool
	// Unlink removes a backing file this call created when the region is unmapped.
	Unlink bool
}

// Closed reports whether the region has been unmapped.
func (r *MappedRegion) Closed() bool {
	return r == nil || r.Addr == nil
}
