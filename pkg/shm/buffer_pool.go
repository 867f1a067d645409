package shm

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNoFreeSlice is returned when every slice of a size class is in use.
	ErrNoFreeSlice = errors.New("shm: no free buffer slice")
	// ErrSliceNotOwned is returned when recycling a slice from another manager.
	ErrSliceNotOwned = errors.New("shm: buffer slice not owned by this manager")
)

// SizePercentPair describes one size class: slices of Size bytes taking
// Percent of the managed memory.
type SizePercentPair struct {
	Size    uint32
	Percent uint32
}

// BufferSlice represents a slice of a shared memory buffer.
type BufferSlice struct {
	Data   []byte
	Offset uint32
	Cap    uint32
	Used   bool

	// keeps the owning segment, and so its mapping, reachable while the slice is
	keep any
}

// BufferManager manages pools of BufferSlices of different sizes.
type BufferManager struct {
	mu     sync.Mutex
	pools  map[uint32][]*BufferSlice // key: size
	sizes  []uint32                  // ascending
	layout []SizePercentPair
	mem    []byte
}

// NewBufferManager carves mem into size classes following layout.
func NewBufferManager(mem []byte, layout []SizePercentPair) *BufferManager {
	bm := &BufferManager{
		pools:  make(map[uint32][]*BufferSlice),
		layout: layout,
		mem:    mem,
	}
	offset := 0
	for _, pair := range layout {
		if pair.Size == 0 {
			continue
		}
		budget := len(mem) * int(pair.Percent) / 100
		count := budget / int(pair.Size)
		for i := 0; i < count; i++ {
			if offset+int(pair.Size) > len(mem) {
				break
			}
			slice := &BufferSlice{
				Data:   mem[offset : offset+int(pair.Size) : offset+int(pair.Size)],
				Offset: uint32(offset),
				Cap:    pair.Size,
			}
			bm.pools[pair.Size] = append(bm.pools[pair.Size], slice)
			offset += int(pair.Size)
		}
	}
	for size := range bm.pools {
		bm.sizes = append(bm.sizes, size)
	}
	sort.Slice(bm.sizes, func(i, j int) bool { return bm.sizes[i] < bm.sizes[j] })
	return bm
}

// Alloc allocates a free BufferSlice from the smallest size class that fits size.
func (bm *BufferManager) Alloc(size uint32) (*BufferSlice, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, class := range bm.sizes {
		if class < size {
			continue
		}
		for _, s := range bm.pools[class] {
			if !s.Used {
				s.Used = true
				return s, nil
			}
		}
	}
	return nil, ErrNoFreeSlice
}

// Recycle returns a BufferSlice to the pool.
func (bm *BufferManager) Recycle(s *BufferSlice) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, owned := range bm.pools[s.Cap] {
		if owned == s {
			s.Used = false
			s.keep = nil
			return nil
		}
	}
	return ErrSliceNotOwned
}

// Stats returns the number of free slices for each size.
func (bm *BufferManager) Stats() map[uint32]int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	stats := make(map[uint32]int)
	for size, pool := range bm.pools {
		free := 0
		for _, s := range pool {
			if !s.Used {
				free++
			}
		}
		stats[size] = free
	}
	return stats
}

// Reset drops every slice and the memory they point into, returning how
// many slices were still in use. The manager allocates nothing afterwards.
func (bm *BufferManager) Reset() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	inUse := 0
	for _, pool := range bm.pools {
		for _, s := range pool {
			if s.Used {
				inUse++
			}
			s.Data = nil
			s.Used = true
			s.keep = nil
		}
	}
	bm.pools = map[uint32][]*BufferSlice{}
	bm.sizes = nil
	bm.mem = nil
	return inUse
}
