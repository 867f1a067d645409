//go:build linux

package shm

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRegionFile(t *testing.T) {
	dir := t.TempDir()
	region, err := MapRegion(context.Background(), MapOptions{
		Name:   "region",
		Size:   4096,
		Create: true,
		Dir:    dir,
		Unlink: true,
	})
	require.NoError(t, err)
	require.Len(t, region.Addr, 4096)
	assert.False(t, region.Closed())

	region.Addr[0] = 42
	other, err := MapRegion(context.Background(), MapOptions{Name: "region", Size: 4096, Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, byte(42), other.Addr[0], "second mapping sees the first one's writes")
	require.NoError(t, UnmapRegion(other))
	assert.FileExists(t, filepath.Join(dir, "region"), "opener must not unlink")

	require.NoError(t, UnmapRegion(region))
	assert.True(t, region.Closed())
	assert.NoFileExists(t, filepath.Join(dir, "region"))

	// a second unmap is a no-op
	require.NoError(t, UnmapRegion(region))
}

func TestMapRegionKeepsFileWithoutUnlink(t *testing.T) {
	dir := t.TempDir()
	region, err := MapRegion(context.Background(), MapOptions{Name: "kept", Size: 128, Create: true, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, UnmapRegion(region))
	assert.FileExists(t, filepath.Join(dir, "kept"))
}

func TestMapRegionMemFd(t *testing.T) {
	region, err := MapRegion(context.Background(), MapOptions{Name: "anon", Size: 8192, MemFd: true})
	if err != nil {
		t.Skipf("memfd not available: %v", err)
	}
	assert.Empty(t, region.Path)
	assert.GreaterOrEqual(t, region.Fd, 0)
	region.Addr[8191] = 1
	require.NoError(t, UnmapRegion(region))
	assert.Equal(t, -1, region.Fd)
}

func TestMapRegionErrors(t *testing.T) {
	_, err := MapRegion(context.Background(), MapOptions{Name: "zero", Size: 0})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = MapRegion(context.Background(), MapOptions{Name: "missing", Size: 64, Dir: t.TempDir()})
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = MapRegion(ctx, MapOptions{Name: "cancelled", Size: 64, Create: true, Dir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapRegionRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	region, err := MapRegion(context.Background(), MapOptions{Name: "short", Size: 64 << 10, Dir: dir})
	assert.ErrorIs(t, err, ErrRegionTooSmall)
	assert.Nil(t, region)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "opener must not grow the file")
}

func TestMapRegionCreateNeverShrinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big")
	first, err := MapRegion(context.Background(), MapOptions{Name: "big", Size: 8192, Create: true, Dir: dir, Unlink: true})
	require.NoError(t, err)
	defer func() { _ = UnmapRegion(first) }()
	first.Addr[8191] = 9

	second, err := MapRegion(context.Background(), MapOptions{Name: "big", Size: 4096, Create: true, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, UnmapRegion(second))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
	assert.Equal(t, byte(9), first.Addr[8191])
	assert.FileExists(t, path, "the second call did not create the file")
}

func TestMapRegionCreateGrowsShortFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0600))

	region, err := MapRegion(context.Background(), MapOptions{Name: "grow", Size: 4096, Create: true, Dir: dir, Unlink: true})
	require.NoError(t, err)
	assert.Equal(t, byte(3), region.Addr[2])
	region.Addr[4095] = 1
	require.NoError(t, UnmapRegion(region))

	// the file existed before, so unmapping leaves it in place
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func TestCanCreateOnDevShm(t *testing.T) {
	// outside /dev/shm the check always passes
	assert.True(t, canCreateOnDevShm(math.MaxUint64, "sdffafds"))

	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		t.Skipf("no /dev/shm: %v", err)
	}
	assert.True(t, canCreateOnDevShm(stat.Free/2, "/dev/shm/xxx"))
	assert.False(t, canCreateOnDevShm(math.MaxUint64, "/dev/shm/yyy"))
}

func TestAtomicHeader(t *testing.T) {
	region, err := MapRegion(context.Background(), MapOptions{Name: "hdr", Size: 64, Create: true, Dir: t.TempDir(), Unlink: true})
	require.NoError(t, err)
	defer func() { _ = UnmapRegion(region) }()

	assert.Equal(t, uint32(0), LoadUint32(region.Addr))
	StoreUint32(region.Addr, 7)
	assert.Equal(t, uint32(7), LoadUint32(region.Addr))
	assert.Panics(t, func() { LoadUint32(region.Addr[:2]) })
}
