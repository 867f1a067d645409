// Package lifecycle runs fallback releases off the runtime's cleanup goroutine.
package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	drainBatch   = 16
	drainTimeout = time.Millisecond
)

// Task is one fallback release.
type Task func()

// Reaper queues tasks handed over by runtime cleanups and runs them on a
// bounded worker pool. Enqueue never runs a queued task on the caller while
// the Reaper is open: the runtime runs every cleanup on a single goroutine.
type Reaper struct {
	q        *queue.Queue
	pool     *ants.Pool
	logger   *zap.Logger
	pending  atomic.Int64
	overflow sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
}

// NewReaper creates a Reaper with at most workers concurrent drains.
func NewReaper(workers int, hint int64, logger *zap.Logger) (*Reaper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		q:      queue.New(hint),
		logger: logger,
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			r.logger.Error("reaper worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Enqueue schedules t. When the pool is saturated the queue is drained on an
// extra goroutine. After Close the task runs on the caller's goroutine.
func (r *Reaper) Enqueue(t Task) {
	if t == nil {
		return
	}
	r.pending.Add(1)

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		r.run(t)
		return
	}
	if err := r.q.Put(t); err != nil {
		r.run(t)
		return
	}
	if err := r.pool.Submit(r.drain); err != nil {
		if !errors.Is(err, ants.ErrPoolOverload) {
			r.logger.Debug("reaper submit failed, draining on overflow goroutine", zap.Error(err))
		}
		r.overflow.Add(1)
		go func() {
			defer r.overflow.Done()
			r.drain()
		}()
	}
}

// Pending reports tasks queued or running.
func (r *Reaper) Pending() int64 {
	return r.pending.Load()
}

// Close drains queued tasks and releases the worker pool. Tasks enqueued
// after Close run inline.
func (r *Reaper) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.drain()
	r.overflow.Wait()
	leftover := r.q.Dispose()
	for _, item := range leftover {
		if t, ok := item.(Task); ok {
			r.run(t)
		}
	}
	return r.pool.ReleaseTimeout(time.Second)
}

func (r *Reaper) drain() {
	for !r.q.Empty() {
		items, err := r.q.Poll(drainBatch, drainTimeout)
		if err != nil {
			// timeout: another drain took the items; disposed: Close owns the rest
			return
		}
		for _, item := range items {
			t, ok := item.(Task)
			if !ok {
				r.logger.Error("reaper dropped unknown queue item", zap.Any("item", item))
				r.pending.Add(-1)
				continue
			}
			r.run(t)
		}
	}
}

func (r *Reaper) run(t Task) {
	defer r.pending.Add(-1)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("fallback release panicked", zap.Any("panic", p))
		}
	}()
	t()
}
