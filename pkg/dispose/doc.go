// Package dispose gives resource-owning types a single, idempotent release
// point for two kinds of resources.
//
// Managed resources are references to other owned objects. They are released
// by ReleaseManaged, which only ever runs from an explicit Dispose.
//
// Unmanaged resources are external handles such as memory mappings and file
// descriptors. They are released by ReleaseUnmanaged, from Dispose or, if the
// owner is dropped without Dispose, from a runtime cleanup once the owner has
// been collected. The fallback is a safety net with no timing guarantee; it
// may never run before the process exits.
//
// Example usage:
//
//	type Conn struct {
//	  *dispose.Controller
//	  peers *PeerSet   // managed
//	}
//
//	func Open(r *dispose.Registry) (*Conn, error) {
//	  fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
//	  // ...
//	  c := &Conn{peers: newPeerSet()}
//	  c.Controller, err = dispose.Track(r, c, "conn", c, &fdHandle{fd: fd})
//	  return c, err
//	}
//
// The unmanaged releaser (fdHandle above) must not point back at its owner,
// otherwise the owner stays reachable and the fallback never fires.
package dispose
