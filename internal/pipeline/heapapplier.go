package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"txengine/internal/buffer"
	"txengine/internal/ports"
	"txengine/internal/tuple"
	"txengine/internal/txn"
)

// heapApplyMaxElapsed bounds how long a single batch is retried against the
// heap port before it is left for the next startup's replay, mirroring the
// teacher pack's server-mode retry budget for a single fallible external
// call (steveyegge-beads' newServerRetryBackoff).
const heapApplyMaxElapsed = 30 * time.Second

// HeapApplier is the heap-mutator stage: it consumes completed batches and
// materializes their effects onto the heap port. The first batch it sees
// after process start is applied idempotently, since it may be a batch the
// previous process already applied before crashing; every batch after that
// uses the plain (non-idempotent) path.
type HeapApplier struct {
	heap         ports.Heap
	batches      <-chan []txn.PreparedCommit
	buf          *buffer.Buffer
	firstApplied bool
}

// NewHeapApplier builds a HeapApplier reading completed batches from
// batches (the CommitPublisher's downstream channel). Once a batch is
// durably applied to heap, buf's persisted blob for it is cleared so a
// later restart's replay window only ever covers a genuine crash.
func NewHeapApplier(heap ports.Heap, batches <-chan []txn.PreparedCommit, buf *buffer.Buffer) *HeapApplier {
	return &HeapApplier{heap: heap, batches: batches, buf: buf}
}

// Run applies batches until ctx is done or batches is closed.
func (a *HeapApplier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-a.batches:
			if !ok {
				return nil
			}
			if err := a.applyBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

func (a *HeapApplier) applyBatch(ctx context.Context, batch []txn.PreparedCommit) error {
	var effects []tuple.Effect
	for _, pc := range batch {
		effects = append(effects, pc.Effects...)
	}
	if len(effects) == 0 {
		a.firstApplied = true
		return a.clearPersisted(ctx)
	}

	idempotent := !a.firstApplied
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = heapApplyMaxElapsed

	err := backoff.Retry(func() error {
		var applyErr error
		if idempotent {
			applyErr = a.heap.MapIdempotently(ctx, effects)
		} else {
			applyErr = a.heap.Map(ctx, effects)
		}
		if applyErr != nil {
			return applyErr
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("pipeline: heap applier: apply batch: %w", err)
	}

	a.firstApplied = true
	return a.clearPersisted(ctx)
}

// clearPersisted drops the batch just applied from the durable blob, so a
// restart between now and the next release doesn't replay already-finished
// work.
func (a *HeapApplier) clearPersisted(ctx context.Context) error {
	if a.buf == nil {
		return nil
	}
	if err := a.buf.Clear(ctx); err != nil {
		return fmt.Errorf("pipeline: heap applier: clear buffer: %w", err)
	}
	return nil
}
