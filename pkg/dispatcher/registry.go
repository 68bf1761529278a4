package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks in-flight dispatch tasks so shutdown can wait a bounded
// amount of time for them. With a zero grace period shutdown abandons
// whatever is still running.
type Registry struct {
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Go runs fn as a tracked task.
func (r *Registry) Go(fn func()) {
	r.wg.Add(1)
	r.active.Add(1)
	go func() {
		defer func() {
			r.active.Add(-1)
			r.wg.Done()
		}()
		fn()
	}()
}

// Active reports the number of tasks currently running.
func (r *Registry) Active() int {
	return int(r.active.Load())
}

// Shutdown waits up to grace for tracked tasks to finish and returns the
// number of tasks still running when the wait ended. Abandoned tasks keep
// running until the process exits.
func (r *Registry) Shutdown(grace time.Duration) int {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	if grace <= 0 {
		select {
		case <-done:
		default:
		}
		return r.Active()
	}

	select {
	case <-done:
	case <-time.After(grace):
	}
	return r.Active()
}
