/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dispose

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/srediag/shm-dispose/api"
)

// ManagedReleaser releases references to other owned objects. It runs only
// from Dispose, while the owner and everything it references are still valid.
type ManagedReleaser interface {
	ReleaseManaged()
}

// UnmanagedReleaser releases external handles: mappings, file descriptors,
// native buffers. It may run from the runtime fallback after the owner has
// become unreachable, so an implementation must not reference the owner or
// any managed collaborator, and must not panic. A resource that needs its
// owner to be released belongs in ReleaseManaged and gets no fallback.
type UnmanagedReleaser interface {
	ReleaseUnmanaged()
}

// Releaser is implemented by owners that handle both kinds themselves.
// Such an owner can only pass itself as the managed half; see Track.
type Releaser interface {
	ManagedReleaser
	UnmanagedReleaser
}

var _ api.Disposable = (*Controller)(nil)

// core is the part of a Controller reachable from the runtime cleanup.
// It must never point back at the owner or the managed releaser.
type core struct {
	id        string
	name      string
	created   time.Time
	disposed  atomic.Bool
	unmanaged UnmanagedReleaser
}

// Controller sequences the release of one owner's resources.
type Controller struct {
	c       *core
	managed ManagedReleaser
	reg     *Registry
	cleanup runtime.Cleanup
}

// Track enrolls owner in r and returns its Controller. When owner becomes
// unreachable without Dispose having run, the runtime fallback calls only
// unmanaged.ReleaseUnmanaged. Either releaser may be nil. A nil r means Default().
func Track[T any](r *Registry, owner *T, name string, managed ManagedReleaser, unmanaged UnmanagedReleaser) (*Controller, error) {
	if owner == nil {
		return nil, ErrNilOwner
	}
	if unmanaged != nil {
		if p, ok := any(unmanaged).(*T); ok && p == owner {
			return nil, ErrOwnerReachable
		}
	}
	if r == nil {
		r = Default()
	}

	c := &core{
		name:      name,
		created:   time.Now(),
		unmanaged: unmanaged,
	}
	if err := r.enroll(c); err != nil {
		return nil, err
	}
	ctl := &Controller{
		c:       c,
		managed: managed,
		reg:     r,
	}
	ctl.cleanup = runtime.AddCleanup(owner, r.collected, c)
	return ctl, nil
}

// Dispose releases managed then unmanaged resources. Only the first call,
// among any number of concurrent ones, does anything.
func (ctl *Controller) Dispose() {
	if !ctl.c.disposed.CompareAndSwap(false, true) {
		return
	}
	ctl.cleanup.Stop()
	ctl.reg.forget(ctl.c)

	if ctl.managed != nil {
		ctl.reg.invoke(ctl.c, "managed", ctl.managed.ReleaseManaged)
	}
	if ctl.c.unmanaged != nil {
		ctl.reg.invoke(ctl.c, "unmanaged", ctl.c.unmanaged.ReleaseUnmanaged)
	}
	ctl.reg.released(ctl.c, PathExplicit)
}

// Close implements io.Closer. It never fails.
func (ctl *Controller) Close() error {
	ctl.Dispose()
	return nil
}

// Disposed reports whether either release path has run.
func (ctl *Controller) Disposed() bool {
	return ctl.c.disposed.Load()
}

// ID returns the registry id assigned by Track.
func (ctl *Controller) ID() string {
	return ctl.c.id
}

// Name returns the name given to Track.
func (ctl *Controller) Name() string {
	return ctl.c.name
}

// releaseFallback runs on the reaper once the owner has been collected.
// It only sees the core, so the managed releaser is out of reach.
func releaseFallback(r *Registry, c *core) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	r.forget(c)
	if c.unmanaged != nil {
		r.invoke(c, "unmanaged", c.unmanaged.ReleaseUnmanaged)
	}
	r.released(c, PathFallback)
	r.logger.Warn("resource was not disposed, released by fallback",
		zap.String("id", c.id),
		zap.String("name", c.name),
		zap.Duration("age", time.Since(c.created)))
}

// Using calls fn with v and disposes v when fn returns or panics.
func Using[T api.Disposable](v T, fn func(T) error) error {
	defer v.Dispose()
	return fn(v)
}
