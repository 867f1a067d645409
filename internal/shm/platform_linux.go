//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.MemFd {
		return mapMemFd(opts)
	}

	dir := opts.Dir
	if dir == "" {
		dir = defaultDir
	}
	shmPath := filepath.Join(dir, opts.Name)
	flags := unix.O_RDWR | unix.O_CLOEXEC
	created := false
	if opts.Create {
		if _, err := os.Stat(shmPath); errors.Is(err, os.ErrNotExist) {
			if !canCreateOnDevShm(uint64(opts.Size), shmPath) {
				return nil, fmt.Errorf("%w: path:%s size:%d", ErrNoSpace, shmPath, opts.Size)
			}
			created = true
		}
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", shmPath, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		if created {
			_ = unix.Unlink(shmPath)
		}
		return nil, fmt.Errorf("fstat %s: %w", shmPath, err)
	}
	// an existing file is only ever grown, never shrunk under another mapping
	if st.Size < int64(opts.Size) {
		if !opts.Create {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%w: path:%s file:%d size:%d", ErrRegionTooSmall, shmPath, st.Size, opts.Size)
		}
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			if created {
				_ = unix.Unlink(shmPath)
			}
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		if created {
			_ = unix.Unlink(shmPath)
		}
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:    addr,
		Name:    opts.Name,
		Path:    shmPath,
		Fd:      fd,
		created: created,
		unlink:  opts.Unlink,
	}, nil
}

func mapMemFd(opts MapOptions) (*MappedRegion, error) {
	fd, err := unix.MemfdCreate(opts.Name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr: addr,
		Name: opts.Name,
		Fd:   fd,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
// Steps that already succeeded are not repeated, so a failed call can be retried.
func UnmapRegion(region *MappedRegion) error {
	if region == nil {
		return nil
	}
	if region.Addr != nil {
		if err := unix.Munmap(region.Addr); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		region.Addr = nil
	}
	if region.Fd >= 0 {
		if err := unix.Close(region.Fd); err != nil && !errors.Is(err, unix.EBADF) {
			return fmt.Errorf("close fd %d: %w", region.Fd, err)
		}
		region.Fd = -1
	}
	if region.created && region.unlink && region.Path != "" {
		if err := unix.Unlink(region.Path); err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("unlink %s: %w", region.Path, err)
		}
		region.created = false
	}
	return nil
}

// canCreateOnDevShm only checks free space for paths under /dev/shm.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, defaultDir) {
		return true
	}
	stat, err := disk.Usage(defaultDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
