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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/srediag/shm-dispose/internal/lifecycle"
)

var (
	// ErrNilOwner is returned by Track when owner is nil.
	ErrNilOwner = errors.New("dispose: nil owner")
	// ErrOwnerReachable is returned by Track when the unmanaged releaser is the
	// owner itself; the owner could then never become unreachable.
	ErrOwnerReachable = errors.New("dispose: unmanaged releaser must not be the owner")
	// ErrRegistryClosed is returned by Track on a closed Registry.
	ErrRegistryClosed = errors.New("dispose: registry closed")
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Path tells which release path ran.
type Path uint8

const (
	// PathExplicit is a release through Dispose.
	PathExplicit Path = iota + 1
	// PathFallback is a release by the runtime cleanup of an unreachable owner.
	PathFallback
)

func (p Path) String() string {
	switch p {
	case PathExplicit:
		return "explicit"
	case PathFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Observer is notified of registry events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	Tracked(name string)
	Released(name string, path Path)
}

// Stats is a point in time view of a Registry.
type Stats struct {
	Live     int
	Tracked  uint64
	Explicit uint64
	Fallback uint64
	Pending  int64
}

// Entry describes a live, not yet released resource.
type Entry struct {
	ID   string
	Name string
	Age  time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver adds an observer to the registry.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithLogger sets the registry's logger. The package Logger is the default.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry is the explicit finalization registry owners enroll into.
// Entries hold no reference to their owner.
type Registry struct {
	config    *Config
	logger    *zap.Logger
	observers []Observer
	live      cmap.ConcurrentMap[string, *core]
	reaper    *lifecycle.Reaper

	seq      atomic.Uint64
	tracked  atomic.Uint64
	explicit atomic.Uint64
	fallback atomic.Uint64
	closed   atomic.Bool
}

// NewRegistry creates a Registry. A nil config means DefaultConfig().
func NewRegistry(config *Config, opts ...Option) (*Registry, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	r := &Registry{
		config: config,
		logger: Logger(),
		live:   cmap.New[*core](),
	}
	for _, opt := range opts {
		opt(r)
	}
	reaper, err := lifecycle.NewReaper(config.FallbackWorkers, config.FallbackQueueHint, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create reaper: %w", err)
	}
	r.reaper = reaper
	return r, nil
}

// Default returns the process wide Registry used by Track when given nil.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(DefaultConfig())
		if err != nil {
			panic("dispose: default registry: " + err.Error())
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Config returns the registry's configuration.
func (r *Registry) Config() Config {
	return *r.config
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Live:     r.live.Count(),
		Tracked:  r.tracked.Load(),
		Explicit: r.explicit.Load(),
		Fallback: r.fallback.Load(),
		Pending:  r.reaper.Pending(),
	}
}

// Live lists resources that are tracked and not yet released, oldest first.
func (r *Registry) Live() []Entry {
	now := time.Now()
	entries := make([]Entry, 0, r.live.Count())
	r.live.IterCb(func(id string, c *core) {
		entries = append(entries, Entry{ID: id, Name: c.name, Age: now.Sub(c.created)})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Age > entries[j].Age })
	return entries
}

// Contain runs a fallible release step, retrying with a constant backoff,
// and logs the final error instead of returning it. Release hooks use it so
// failures never leave Dispose or the fallback path.
func (r *Registry) Contain(what string, fn func() error) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.config.RetryInterval), r.config.ReleaseRetries)
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return fn()
	}, b)
	if err != nil {
		r.logger.Warn("release failed",
			zap.String("what", what),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
}

// Close drains pending fallback releases and stops the worker pool.
// Fallbacks for owners collected later run inline.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.reaper.Close()
}

func (r *Registry) enroll(c *core) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}
	c.id = strconv.FormatUint(r.seq.Add(1), 10)
	r.live.Set(c.id, c)
	r.tracked.Add(1)
	for _, o := range r.observers {
		o.Tracked(c.name)
	}
	return nil
}

func (r *Registry) forget(c *core) {
	r.live.Remove(c.id)
}

// collected is the runtime cleanup. It runs on the runtime's single cleanup
// goroutine and only hands the core to the reaper.
func (r *Registry) collected(c *core) {
	r.reaper.Enqueue(func() { releaseFallback(r, c) })
}

func (r *Registry) released(c *core, path Path) {
	switch path {
	case PathExplicit:
		r.explicit.Add(1)
	case PathFallback:
		r.fallback.Add(1)
	}
	for _, o := range r.observers {
		o.Released(c.name, path)
	}
}

// invoke runs a release hook and keeps a panic from escaping it.
func (r *Registry) invoke(c *core, kind string, hook func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("release hook panicked",
				zap.String("id", c.id),
				zap.String("name", c.name),
				zap.String("kind", kind),
				zap.Any("panic", p))
		}
	}()
	hook()
}
