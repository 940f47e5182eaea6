package horizon

import (
	"context"
	"sync"
)

// SharedHorizon is a scoped exclusive-access wrapper around a Horizon. It is
// not a reader-writer lock — access is always exclusive, per spec.md §4.6 —
// and the scope is meant to be short: one horizon call per acquisition,
// never held across I/O that is not horizon-local.
//
// This generalizes the teacher's MVCCMap.mu critical section in map.go's
// commit method into an explicit, caller-visible token, because here more
// than one stage (serialization, output-commits) needs a turn holding it,
// where the teacher only ever took its own lock from inside one method.
type SharedHorizon struct {
	mu *sync.Mutex
	h  *Horizon
}

// NewShared wraps h for exclusive cross-stage access.
func NewShared(h *Horizon) *SharedHorizon {
	return &SharedHorizon{mu: &sync.Mutex{}, h: h}
}

// Acquire blocks until the caller holds the only reference that may mutate
// the horizon, then returns it along with a release function. The caller
// must call release exactly once, as soon as it is done — the acquisition
// is meant to span a single horizon call, not an I/O wait.
//
// Acquire honors ctx cancellation while waiting for the lock.
func (sh *SharedHorizon) Acquire(ctx context.Context) (*Horizon, func(), error) {
	done := make(chan struct{})
	go func() {
		sh.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return sh.h, sh.mu.Unlock, nil
	case <-ctx.Done():
		// The lock may still land after we give up waiting; hand the
		// eventual lock straight back to avoid leaking the goroutine and a
		// stuck mutex.
		go func() {
			<-done
			sh.mu.Unlock()
		}()
		return nil, func() {}, ctx.Err()
	}
}
