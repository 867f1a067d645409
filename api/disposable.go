// Package api defines public API contracts for shm-dispose.
package api

// Disposable is implemented by every type that owns releasable resources.
//
// Dispose must be idempotent: the first call releases everything the value
// owns, later calls do nothing. Disposed reports whether release has happened,
// through either Dispose or the runtime fallback.
type Disposable interface {
	Dispose()
	Disposed() bool
}
