// Package health exposes registry state as liveness and readiness checks.
package health

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/shm-dispose/pkg/dispose"
)

// LeakCheck fails once more than threshold resources have been released by
// the runtime fallback instead of Dispose. A zero threshold never fails.
func LeakCheck(r *dispose.Registry, threshold uint64) healthcheck.Check {
	return func() error {
		if threshold == 0 {
			return nil
		}
		if n := r.Stats().Fallback; n > threshold {
			return fmt.Errorf("%d resources leaked to the fallback release, threshold %d", n, threshold)
		}
		return nil
	}
}

// LiveCheck fails while more than max resources are tracked and unreleased.
// A zero max never fails.
func LiveCheck(r *dispose.Registry, max int) healthcheck.Check {
	return func() error {
		if max == 0 {
			return nil
		}
		if n := r.Stats().Live; n > max {
			return fmt.Errorf("%d live resources, max %d", n, max)
		}
		return nil
	}
}

// NewHandler returns a health handler wired to the registry's configured
// thresholds: leaks fail liveness, too many live resources fail readiness.
func NewHandler(r *dispose.Registry) healthcheck.Handler {
	config := r.Config()
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("dispose-leaks", LeakCheck(r, config.LeakThreshold))
	h.AddReadinessCheck("dispose-live", LiveCheck(r, config.MaxLive))
	return h
}
