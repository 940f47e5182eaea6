package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"txengine/internal/buffer"
	"txengine/internal/clock"
	"txengine/internal/horizon"
	"txengine/internal/ports"
)

// Serializer is the serialization stage: append-before-apply onto the log,
// then mutate the horizon under one SharedHorizon acquisition per operator.
type Serializer struct {
	clock   *clock.Clock
	log     ports.Log
	horizon *horizon.SharedHorizon
	buf     *buffer.Buffer
	logger  *slog.Logger
}

// NewSerializer builds a Serializer over the given collaborators. A nil
// logger falls back to slog.Default().
func NewSerializer(c *clock.Clock, log ports.Log, h *horizon.SharedHorizon, buf *buffer.Buffer, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{clock: c, log: log, horizon: h, buf: buf, logger: logger}
}

// Recovery drains the log from its last committed offset, replaying every
// operator into the horizon and forwarding produced prepared commits to the
// buffer, exactly as a first pass through Run would have. It returns the
// largest LogicTime it applied (zero if the log was empty), so the caller
// can fast-forward the clock past it before accepting new requests.
func (s *Serializer) Recovery(ctx context.Context) (clock.LogicTime, error) {
	out, errc := s.log.Iterate(ctx, false)

	var last clock.LogicTime
	for ao := range out {
		last = ao.Time
		if _, err := s.apply(ctx, ao); err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("pipeline: recovery: replay %s at %d: %w", ao.Op.Kind, ao.Time, err)
			}
			// A failed operator does not stop replay, just as it does not
			// stop Run, which reports it to the caller and goes on.
			s.logger.Debug("replayed operator failed", "kind", ao.Op.Kind, "time", ao.Time, "error", err)
		}
		if err := s.commitOffsetAfter(ctx, ao.Time); err != nil {
			return last, fmt.Errorf("pipeline: recovery: commit offset: %w", err)
		}
	}
	if err := <-errc; err != nil {
		return last, fmt.Errorf("pipeline: recovery: iterate: %w", err)
	}
	return last, nil
}

// Run is the steady-state loop: every request is stamped with the next
// logical time, appended to the log, then applied to the horizon, in that
// order, never the reverse. It returns when requests is closed or ctx is
// done.
func (s *Serializer) Run(ctx context.Context, requests <-chan Request) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			s.handle(ctx, req)
		}
	}
}

func (s *Serializer) handle(ctx context.Context, req Request) {
	ao := ports.AppliedOperator{Time: s.clock.Next(), XID: req.XID, Op: req.Op}

	if err := s.log.Push(ctx, ao); err != nil {
		s.reply(req, Outcome{Err: fmt.Errorf("pipeline: log push: %w", err)})
		return
	}
	res, err := s.apply(ctx, ao)
	if err == nil {
		// Advance the committed offset exactly as Recovery does per operator,
		// so a restart's replay window stays scoped to the tail needed to
		// reconstruct still-live transactions rather than the whole log.
		if cerr := s.commitOffsetAfter(ctx, ao.Time); cerr != nil {
			s.logger.Warn("commit offset advance failed", "time", ao.Time, "error", cerr)
		}
	}
	s.reply(req, Outcome{Commit: res, Err: err})
}

func (s *Serializer) reply(req Request, out Outcome) {
	if req.Result == nil {
		return
	}
	req.Result <- out
}

// apply mutates the horizon for ao, then — outside the horizon's critical
// section — forwards any prepared commit that still needs completion to the
// buffer. Horizon internals never suspend; the buffer add (which may
// persist to a durable blob) always happens after release.
func (s *Serializer) apply(ctx context.Context, ao ports.AppliedOperator) (horizon.CommitResult, error) {
	res, err := s.applyToHorizon(ctx, ao)
	if err != nil {
		return res, err
	}
	if ao.Op.Kind == ports.OpCommitTransaction && res.NeedsCompletion {
		if err := s.buf.Add(ctx, res.Prepared); err != nil {
			return res, fmt.Errorf("pipeline: buffer add: %w", err)
		}
	}
	return res, nil
}

func (s *Serializer) applyToHorizon(ctx context.Context, ao ports.AppliedOperator) (horizon.CommitResult, error) {
	h, release, err := s.horizon.Acquire(ctx)
	if err != nil {
		return horizon.CommitResult{}, err
	}
	defer release()

	switch ao.Op.Kind {
	case ports.OpStartTransaction:
		_, err := h.StartTransaction(ao.Time, ao.XID, ao.Op.Isolation)
		return horizon.CommitResult{}, err
	case ports.OpInclude:
		return horizon.CommitResult{}, h.Include(ao.Time, ao.XID, ao.Op.Item)
	case ports.OpCommitTransaction:
		res, err := h.CommitTransaction(ao.Time, ao.XID, ao.Op.Items)
		return res, err
	case ports.OpCompleteCommit:
		_, err := h.CompleteCommit(ao.Time, ao.XID)
		return horizon.CommitResult{}, err
	case ports.OpRollbackTransaction:
		return horizon.CommitResult{}, h.RollbackTransaction(ao.Time, ao.XID)
	default:
		return horizon.CommitResult{}, fmt.Errorf("pipeline: unknown operator kind %d", ao.Op.Kind)
	}
}

// commitOffsetAfter advances the log's commit offset to just before the
// oldest live transaction's start time (so its start operator is replayed
// again on the next restart), or to opTime if the horizon is empty.
func (s *Serializer) commitOffsetAfter(ctx context.Context, opTime clock.LogicTime) error {
	h, release, err := s.horizon.Acquire(ctx)
	if err != nil {
		return err
	}
	oldest := h.OldestStart()
	release()

	at := opTime
	if oldest != nil {
		at = *oldest - 1
	}
	return s.log.CommitOffset(ctx, at)
}
