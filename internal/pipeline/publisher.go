package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"txengine/internal/buffer"
	"txengine/internal/clock"
	"txengine/internal/horizon"
	"txengine/internal/notify"
	"txengine/internal/ports"
	"txengine/internal/txn"
)

// Notification is what a commit's waiters receive once the transaction has
// fully completed (or failed to).
type Notification struct {
	Commit txn.Commit
	Err    error
}

// CommitPublisher is the output-commits stage: for every batch the commit
// buffer releases, it completes each prepared commit under its own shared
// horizon acquisition, logs the completion first, and publishes the result
// to whoever is waiting on that xid.
type CommitPublisher struct {
	clock    *clock.Clock
	log      ports.Log
	horizon  *horizon.SharedHorizon
	buf      *buffer.Buffer
	channel  *notify.Channel[Notification]
	downstream chan<- []txn.PreparedCommit // forwarded to the heap applier
}

// NewCommitPublisher builds a CommitPublisher. downstream is handed every
// released batch after completion so the heap applier can materialize it.
func NewCommitPublisher(c *clock.Clock, log ports.Log, h *horizon.SharedHorizon, buf *buffer.Buffer, ch *notify.Channel[Notification], downstream chan<- []txn.PreparedCommit) *CommitPublisher {
	return &CommitPublisher{clock: c, log: log, horizon: h, buf: buf, channel: ch, downstream: downstream}
}

// Run consumes released batches from the buffer until ctx is done or the
// buffer's channel is closed.
func (p *CommitPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-p.buf.Batches():
			if !ok {
				return nil
			}
			if err := p.publishBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

func (p *CommitPublisher) publishBatch(ctx context.Context, batch []txn.PreparedCommit) error {
	for _, pc := range batch {
		commit, err := p.complete(ctx, pc.XID)
		p.channel.Publish(pc.XID, Notification{Commit: commit, Err: err})
	}

	if p.downstream != nil {
		select {
		case p.downstream <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// complete logs the completion, then applies it to the horizon, append-
// before-apply just like the serializer's steady-state path.
func (p *CommitPublisher) complete(ctx context.Context, xid uuid.UUID) (txn.Commit, error) {
	t := p.clock.Next()
	ao := ports.AppliedOperator{Time: t, XID: xid, Op: ports.Operator{Kind: ports.OpCompleteCommit}}
	if err := p.log.Push(ctx, ao); err != nil {
		return txn.Commit{}, fmt.Errorf("pipeline: publisher: log push: %w", err)
	}

	h, release, err := p.horizon.Acquire(ctx)
	if err != nil {
		return txn.Commit{}, err
	}
	defer release()
	return h.CompleteCommit(ao.Time, xid)
}
