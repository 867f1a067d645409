package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReaperRunsTasks(t *testing.T) {
	r, err := NewReaper(2, 8, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var ran atomic.Int32
	for i := 0; i < 100; i++ {
		r.Enqueue(func() { ran.Add(1) })
	}

	require.Eventually(t, func() bool {
		return ran.Load() == 100 && r.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestReaperEnqueueDoesNotBlock(t *testing.T) {
	r, err := NewReaper(1, 0, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	r.Enqueue(func() {
		close(started)
		<-release
		ran.Add(1)
	})
	<-started

	// with the only worker parked, later tasks drain on an overflow goroutine
	done := make(chan struct{})
	go func() {
		r.Enqueue(func() { ran.Add(1) })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a saturated pool")
	}
	close(release)

	require.Eventually(t, func() bool {
		return ran.Load() == 2 && r.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestReaperOverflowKeepsCallerFree(t *testing.T) {
	r, err := NewReaper(1, 0, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	r.Enqueue(func() {
		close(started)
		<-release
		ran.Add(1)
	})
	<-started

	// a slow release queued behind the parked worker must not hold the caller
	slowStarted := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Enqueue(func() {
			close(slowStarted)
			<-release
			ran.Add(1)
		})
		r.Enqueue(func() { ran.Add(1) })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue ran a blocked task on the caller")
	}
	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("overflow task never started")
	}

	close(release)
	require.Eventually(t, func() bool {
		return ran.Load() == 3 && r.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Close())
}

func TestReaperRecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r, err := NewReaper(2, 0, zap.New(core))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var ran atomic.Int32
	r.Enqueue(func() { panic("boom") })
	r.Enqueue(func() { ran.Add(1) })

	require.Eventually(t, func() bool {
		return ran.Load() == 1 && r.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("fallback release panicked").Len())
}

func TestReaperCloseDrainsAndRunsLateTasksInline(t *testing.T) {
	r, err := NewReaper(4, 0, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		r.Enqueue(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	require.NoError(t, r.Close())
	wg.Wait()
	assert.Equal(t, int32(50), ran.Load())

	r.Enqueue(func() { ran.Add(1) })
	assert.Equal(t, int32(51), ran.Load())
	assert.Equal(t, int64(0), r.Pending())

	assert.NoError(t, r.Close())
	r.Enqueue(nil)
}
