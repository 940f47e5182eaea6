// Package notify implements the xid-keyed rendezvous between the output
// commits stage and whatever is waiting to learn a transaction's outcome
// (spec.md §4.9): Wait registers interest before the result is known,
// Publish delivers it to every registered waiter and forgets the key.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Channel is safe for concurrent use.
type Channel[T any] struct {
	mu      sync.Mutex
	waiters map[uuid.UUID][]chan T
}

// New builds an empty Channel.
func New[T any]() *Channel[T] {
	return &Channel[T]{waiters: make(map[uuid.UUID][]chan T)}
}

// Wait blocks until Publish(xid, ...) is called or ctx is done, whichever
// comes first. Multiple concurrent waiters on the same xid all receive an
// identical copy of the published value.
func (c *Channel[T]) Wait(ctx context.Context, xid uuid.UUID) (T, error) {
	ch := make(chan T, 1)

	c.mu.Lock()
	c.waiters[xid] = append(c.waiters[xid], ch)
	c.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		c.removeWaiter(xid, ch)
		return zero, ctx.Err()
	}
}

// Publish delivers v to every waiter currently registered for xid, then
// discards the registration — late subscribers after a Publish get nothing
// unless a new one occurs under the same key.
func (c *Channel[T]) Publish(xid uuid.UUID, v T) {
	c.mu.Lock()
	chans := c.waiters[xid]
	delete(c.waiters, xid)
	c.mu.Unlock()

	for _, ch := range chans {
		ch <- v
	}
}

func (c *Channel[T]) removeWaiter(xid uuid.UUID, target chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chans := c.waiters[xid]
	for i, ch := range chans {
		if ch == target {
			c.waiters[xid] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(c.waiters[xid]) == 0 {
		delete(c.waiters, xid)
	}
}
