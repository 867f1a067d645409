// Package shm provides shared memory segments whose mappings are released
// exactly once, explicitly or by a runtime fallback.
//
// A Segment owns two kinds of resources. Its mapping and file descriptor are
// unmanaged: they are released by Dispose, or by the runtime after the Segment
// has been collected without Dispose. Its slice pool and staging buffer are
// managed: only Dispose releases them.
//
// Example usage:
//
//	seg, err := shm.Open(ctx, nil, shm.OpenOptions{
//	  Name:   "myshm",
//	  Size:   1 << 20,
//	  Create: true,
//	  Unlink: true,
//	})
//	if err != nil {
//	  return err
//	}
//	defer seg.Dispose()
//	_, err = seg.Write(ctx, []byte("hello"))
//
// Platform-specific helpers are in internal/shm.
package shm
