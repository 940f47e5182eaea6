// Package memstore provides in-memory implementations of every
// internal/ports interface, grounded on the teacher's mutex-guarded map
// idiom (MVCCMap.versions) and on the pack's MemoryStorage naming
// convention for in-memory backends. Used for tests and as the default
// backing store until a durable adapter is wired in.
package memstore

import (
	"context"
	"sync"

	"txengine/internal/ports"
)

// Log is an in-memory, append-only ports.Log. Iterate with blocking=true
// fans new pushes out to every active subscriber.
type Log struct {
	mu      sync.Mutex
	entries []ports.AppliedOperator
	offset  *ports.LogicTime
	subs    []chan ports.AppliedOperator
}

// NewLog builds an empty Log.
func NewLog() *Log { return &Log{} }

func (l *Log) Push(ctx context.Context, op ports.AppliedOperator) error {
	l.mu.Lock()
	l.entries = append(l.entries, op)
	subs := append([]chan ports.AppliedOperator(nil), l.subs...)
	l.mu.Unlock()

	for _, s := range subs {
		select {
		case s <- op:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *Log) Iterate(ctx context.Context, blocking bool) (<-chan ports.AppliedOperator, <-chan error) {
	out := make(chan ports.AppliedOperator, 16)
	errc := make(chan error, 1)

	l.mu.Lock()
	var backlog []ports.AppliedOperator
	for _, e := range l.entries {
		if l.offset == nil || e.Time > *l.offset {
			backlog = append(backlog, e)
		}
	}
	var sub chan ports.AppliedOperator
	if blocking {
		sub = make(chan ports.AppliedOperator, 64)
		l.subs = append(l.subs, sub)
	}
	l.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errc)
		for _, e := range backlog {
			select {
			case out <- e:
			case <-ctx.Done():
				l.unsubscribe(sub)
				return
			}
		}
		if !blocking {
			return
		}
		for {
			select {
			case e := <-sub:
				select {
				case out <- e:
				case <-ctx.Done():
					l.unsubscribe(sub)
					return
				}
			case <-ctx.Done():
				l.unsubscribe(sub)
				return
			}
		}
	}()

	return out, errc
}

func (l *Log) unsubscribe(sub chan ports.AppliedOperator) {
	if sub == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s == sub {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *Log) CommitOffset(ctx context.Context, t ports.LogicTime) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offset = &t
	return nil
}

func (l *Log) CurrentOffset(ctx context.Context) (*ports.LogicTime, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offset == nil {
		return nil, nil
	}
	t := *l.offset
	return &t, nil
}
