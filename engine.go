// Package txengine is the transactional relational engine: it wires a
// clock, a horizon pair, a commit buffer, and the three pipeline stages
// (serialization, output-commits, heap-apply) behind a small request/reply
// API, the same way the teacher's MVCCMap wires a version store plus GC and
// deadlock-detector goroutines behind BeginTx/commit.
package txengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"txengine/internal/buffer"
	"txengine/internal/clock"
	"txengine/internal/horizon"
	"txengine/internal/notify"
	"txengine/internal/pipeline"
	"txengine/internal/ports"
	"txengine/internal/tuple"
	"txengine/internal/txn"
)

// Engine is the entry point a caller constructs once per process. It owns
// the clock, the horizon pair, the shared-horizon token, the commit buffer,
// the notification channel, and the three cooperating pipeline stages.
type Engine struct {
	clock   *clock.Clock
	shared  *horizon.SharedHorizon
	buf     *buffer.Buffer
	channel *notify.Channel[pipeline.Notification]

	heap      ports.Heap
	relations ports.Relations
	uuids     ports.UUIDSource

	requests   chan pipeline.Request
	downstream chan []txn.PreparedCommit

	logger *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs an Engine over the given ports, replays the log and any
// durably persisted commit batch, then launches the three pipeline stages.
// The returned Engine must eventually be Close()d.
func New(ctx context.Context, log ports.Log, heap ports.Heap, relations ports.Relations, uuids ports.UUIDSource, blob ports.DurableBlob, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	clk := clock.New()
	h := horizon.New(cfg.horizonMaxLen, cfg.horizonMaxAge)
	shared := horizon.NewShared(h)
	buf := buffer.New(blob, cfg.bufferOverflowLen, cfg.bufferOverflowTimeout)
	channel := notify.New[pipeline.Notification]()

	if err := buf.Replay(ctx); err != nil {
		return nil, fmt.Errorf("txengine: replay commit buffer: %w", err)
	}

	ser := pipeline.NewSerializer(clk, log, shared, buf, cfg.logger)
	lastTime, err := ser.Recovery(ctx)
	if err != nil {
		return nil, fmt.Errorf("txengine: recovery: %w", err)
	}
	clk.FastForward(lastTime)

	requests := make(chan pipeline.Request)
	downstream := make(chan []txn.PreparedCommit, 16)
	pub := pipeline.NewCommitPublisher(clk, log, shared, buf, channel, downstream)
	hap := pipeline.NewHeapApplier(heap, downstream, buf)

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	group.Go(func() error { return runUntilCanceled(ser.Run(runCtx, requests)) })
	group.Go(func() error { return runUntilCanceled(pub.Run(runCtx)) })
	group.Go(func() error { return runUntilCanceled(hap.Run(runCtx)) })
	group.Go(func() error { buf.RunTimeoutLoop(runCtx); return nil })

	e := &Engine{
		clock:      clk,
		shared:     shared,
		buf:        buf,
		channel:    channel,
		heap:       heap,
		relations:  relations,
		uuids:      uuids,
		requests:   requests,
		downstream: downstream,
		logger:     cfg.logger,
		cancel:     cancel,
		group:      group,
	}

	e.logger.Info("engine started", "recovered_time", lastTime)
	return e, nil
}

// runUntilCanceled treats context.Canceled as a clean shutdown rather than
// an error to surface from Close.
func runUntilCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close cancels every pipeline stage and waits for them to exit.
func (e *Engine) Close() error {
	e.cancel()
	return e.group.Wait()
}

// StartTransaction begins a new transaction of the given isolation and
// returns its xid.
func (e *Engine) StartTransaction(ctx context.Context, isolation txn.Isolation) (uuid.UUID, error) {
	xid := e.uuids.New()
	out := e.submit(ctx, xid, ports.Operator{Kind: ports.OpStartTransaction, Isolation: isolation})
	if out.Err != nil {
		return uuid.Nil, out.Err
	}
	e.logger.Debug("transaction started", "xid", xid, "isolation", isolation)
	return xid, nil
}

// Include folds a single item (claim or effect) into xid's accumulated
// state without committing.
func (e *Engine) Include(ctx context.Context, xid uuid.UUID, item txn.Item) error {
	out := e.submit(ctx, xid, ports.Operator{Kind: ports.OpInclude, Item: item})
	return out.Err
}

// CommitTransaction applies items, detects conflicts, and — for a
// serializable transaction — blocks until the output-commits stage has
// finished completing it. A non-serializable-read transaction returns as
// soon as its (necessarily effect-free) commit is accepted.
func (e *Engine) CommitTransaction(ctx context.Context, xid uuid.UUID, items []txn.Item) (txn.Commit, error) {
	out := e.submit(ctx, xid, ports.Operator{Kind: ports.OpCommitTransaction, Items: items})
	if out.Err != nil {
		var ce *txn.ConflictError
		if errors.As(out.Err, &ce) {
			e.logger.Warn("commit rejected by conflict detection", "xid", xid, "rejected_claims", ce.RejectedClaims)
		}
		return txn.Commit{}, out.Err
	}
	if !out.Commit.NeedsCompletion {
		return txn.Commit{XID: xid, Effects: out.Commit.Prepared.Effects}, nil
	}

	note, err := e.channel.Wait(ctx, xid)
	if err != nil {
		return txn.Commit{}, fmt.Errorf("txengine: wait for completion: %w", err)
	}
	if note.Err == nil {
		e.logger.Debug("transaction completed", "xid", xid, "effects", len(note.Commit.Effects))
	}
	return note.Commit, note.Err
}

// RollbackTransaction discards xid's accumulated state.
func (e *Engine) RollbackTransaction(ctx context.Context, xid uuid.UUID) error {
	out := e.submit(ctx, xid, ports.Operator{Kind: ports.OpRollbackTransaction})
	if out.Err == nil {
		e.logger.Debug("transaction rolled back", "xid", xid)
	}
	return out.Err
}

// View performs a full-scan equality read against the heap on behalf of
// xid, recording a Viewed effect for every tuple returned so it
// participates in xid's conflict detection at commit time.
func (e *Engine) View(ctx context.Context, xid uuid.UUID, relationNumber, attributeNumber int, scalar any) ([]tuple.Tuple, error) {
	tuples, err := e.heap.TuplesWithAttribute(ctx, relationNumber, attributeNumber, scalar)
	if err != nil {
		return nil, fmt.Errorf("txengine: view: %w", err)
	}
	for _, t := range tuples {
		if err := e.Include(ctx, xid, txn.EffectItem(tuple.ViewedEffect(t.TID))); err != nil {
			return nil, err
		}
	}
	return tuples, nil
}

// AddRelation registers a relation with the engine's relation catalog.
func (e *Engine) AddRelation(ctx context.Context, rel *tuple.Relation) error {
	return e.relations.Add(ctx, rel)
}

// Relation looks up a relation by number.
func (e *Engine) Relation(ctx context.Context, number int) (*tuple.Relation, error) {
	return e.relations.Relation(ctx, number)
}

func (e *Engine) submit(ctx context.Context, xid uuid.UUID, op ports.Operator) pipeline.Outcome {
	result := make(chan pipeline.Outcome, 1)
	select {
	case e.requests <- pipeline.Request{XID: xid, Op: op, Result: result}:
	case <-ctx.Done():
		return pipeline.Outcome{Err: ctx.Err()}
	}
	select {
	case out := <-result:
		return out
	case <-ctx.Done():
		return pipeline.Outcome{Err: ctx.Err()}
	}
}
