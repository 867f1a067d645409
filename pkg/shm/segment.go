package shm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	internalshm "github.com/srediag/shm-dispose/internal/shm"
	"github.com/srediag/shm-dispose/pkg/dispose"
)

const (
	// headerSize keeps the mailbox and slice memory cache line aligned.
	headerSize = 64
	lengthOff  = 0
)

var (
	// ErrSegmentDisposed is returned by operations on a disposed Segment.
	ErrSegmentDisposed = errors.New("shm: segment disposed")
	// ErrSegmentTooSmall is returned by Open when Size cannot hold the header.
	ErrSegmentTooSmall = errors.New("shm: segment too small")
	// ErrMessageTooLarge is returned when a message exceeds the mailbox.
	ErrMessageTooLarge = errors.New("shm: message larger than mailbox")
	// ErrNoMessage is returned by Read when nothing has been published.
	ErrNoMessage = errors.New("shm: no message")
	// ErrEmptyMessage is returned by Write and Flush for zero-length messages,
	// which readers could not tell apart from no message at all.
	ErrEmptyMessage = errors.New("shm: empty message")
)

// DefaultLayout splits slice memory between 4 KiB and 16 KiB classes.
var DefaultLayout = []SizePercentPair{
	{Size: 4 << 10, Percent: 70},
	{Size: 16 << 10, Percent: 30},
}

// OpenOptions defines options for creating or opening a Segment.
type OpenOptions struct {
	// Name is the identifier for the shared memory region.
	Name string
	// Size is the total mapping size in bytes.
	Size int
	// Create indicates whether to create (if not exists) or open existing.
	Create bool
	// Dir overrides /dev/shm as the backing directory.
	Dir string
	// MemFd backs the segment with an anonymous memfd.
	MemFd bool
	// Unlink removes a backing file created by Open once the segment is released.
	Unlink bool
	// Layout carves slice memory into size classes. Defaults to DefaultLayout.
	Layout []SizePercentPair
}

// regionHandle is the unmanaged half of a Segment. It holds the mapping and
// nothing that leads back to the Segment.
type regionHandle struct {
	region *internalshm.MappedRegion
	reg    *dispose.Registry
}

func (h *regionHandle) ReleaseUnmanaged() {
	h.reg.Contain("unmap "+h.region.Name, func() error {
		return internalshm.UnmapRegion(h.region)
	})
}

// Segment is a shared memory mapping split into a header, a single message
// mailbox and a pool of slices. The mapping is released by Dispose or, if
// the Segment is dropped undisposed, by the runtime fallback.
type Segment struct {
	*dispose.Controller

	mu      sync.Mutex
	handle  *regionHandle
	header  []byte
	mailbox []byte
	slices  *BufferManager
	staging *bytebufferpool.ByteBuffer
}

// Open maps a segment and enrolls it in reg. A nil reg means dispose.Default().
func Open(ctx context.Context, reg *dispose.Registry, opts OpenOptions) (*Segment, error) {
	if opts.Size < headerSize+2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSegmentTooSmall, opts.Size)
	}
	if reg == nil {
		reg = dispose.Default()
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name:   opts.Name,
		Size:   opts.Size,
		Create: opts.Create,
		Dir:    opts.Dir,
		MemFd:  opts.MemFd,
		Unlink: opts.Unlink,
	})
	if err != nil {
		return nil, err
	}

	layout := opts.Layout
	if layout == nil {
		layout = DefaultLayout
	}
	body := region.Addr[headerSize:]
	mailboxSize := len(body) / 2
	s := &Segment{
		handle:  &regionHandle{region: region, reg: reg},
		header:  region.Addr[:headerSize],
		mailbox: body[:mailboxSize],
		slices:  NewBufferManager(body[mailboxSize:], layout),
		staging: bytebufferpool.Get(),
	}
	s.Controller, err = dispose.Track(reg, s, opts.Name, s, s.handle)
	if err != nil {
		bytebufferpool.Put(s.staging)
		_ = internalshm.UnmapRegion(region)
		return nil, err
	}
	return s, nil
}

// ReleaseManaged drops the slice pool and returns the staging buffer.
// Slices still held by callers lose their Data.
func (s *Segment) ReleaseManaged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inUse := s.slices.Reset(); inUse > 0 {
		dispose.Logger().Warn("segment disposed with slices in use",
			zap.String("name", s.Name()),
			zap.Int("in_use", inUse))
	}
	bytebufferpool.Put(s.staging)
	s.staging = nil
	s.header = nil
	s.mailbox = nil
}

// Path returns the backing file, empty for memfd segments.
func (s *Segment) Path() string {
	return s.handle.region.Path
}

// MailboxCap returns the largest message Write accepts.
func (s *Segment) MailboxCap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mailbox)
}

// Append stages p locally without publishing it.
func (s *Segment) Append(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return 0, ErrSegmentDisposed
	}
	if s.staging.Len()+len(p) > len(s.mailbox) {
		return 0, ErrMessageTooLarge
	}
	return s.staging.Write(p)
}

// Flush publishes the staged bytes as the current message.
func (s *Segment) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return ErrSegmentDisposed
	}
	if s.staging.Len() == 0 {
		return ErrEmptyMessage
	}
	n := copy(s.mailbox, s.staging.B)
	internalshm.StoreUint32(s.header[lengthOff:], uint32(n))
	s.staging.Reset()
	return nil
}

// Write publishes p as the current message, replacing staged bytes.
func (s *Segment) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return 0, ErrSegmentDisposed
	}
	if len(p) == 0 {
		return 0, ErrEmptyMessage
	}
	if len(p) > len(s.mailbox) {
		return 0, ErrMessageTooLarge
	}
	s.staging.Reset()
	n := copy(s.mailbox, p)
	internalshm.StoreUint32(s.header[lengthOff:], uint32(n))
	return n, nil
}

// Read copies the current message into buf. A short buf gets a prefix and io.ErrShortBuffer.
func (s *Segment) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return 0, ErrSegmentDisposed
	}
	size := int(internalshm.LoadUint32(s.header[lengthOff:]))
	if size == 0 {
		return 0, ErrNoMessage
	}
	if size > len(s.mailbox) {
		return 0, fmt.Errorf("shm: corrupt header, length %d exceeds mailbox %d", size, len(s.mailbox))
	}
	n := copy(buf, s.mailbox[:size])
	if n < size {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// Alloc takes a slice of at least size bytes. The slice keeps the segment
// alive until it is recycled; its Data is invalid after Dispose.
func (s *Segment) Alloc(size uint32) (*BufferSlice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return nil, ErrSegmentDisposed
	}
	slice, err := s.slices.Alloc(size)
	if err != nil {
		return nil, err
	}
	slice.keep = s
	return slice, nil
}

// Recycle returns a slice taken with Alloc.
func (s *Segment) Recycle(slice *BufferSlice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Disposed() {
		return ErrSegmentDisposed
	}
	return s.slices.Recycle(slice)
}

// Stats returns the number of free slices per size class.
func (s *Segment) Stats() map[uint32]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices.Stats()
}
