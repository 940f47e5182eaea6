// Package horizon implements the in-memory horizon of active transactions:
// the ordered arena of live transactions (both isolation variants), size
// and age limit enforcement, and the operations that dispatch to a
// transaction and produce prepared commits.
//
// Transactions never hold pointers to one another. concurrent and
// possible-conflict links are sets of XIDs resolved through this package's
// two ordered-map arenas on every access, per spec.md §9 — the same
// "arena keyed by id, links as sets resolved through the arena" shape the
// teacher's MVCCMap.activeTxs plays for its (much simpler) deadlock graph.
package horizon

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/google/uuid"

	"txengine/internal/clock"
	"txengine/internal/ports"
	"txengine/internal/tuple"
	"txengine/internal/txn"
)

// CommitResult is what CommitTransaction returns: the prepared commit, and
// whether the caller still needs to drive it through the commit buffer and
// CompleteCommit (true for the serializable variant; false for
// non-serializable-read, which finalizes immediately since it never
// produces heap effects).
type CommitResult struct {
	Prepared        txn.PreparedCommit
	NeedsCompletion bool
}

// Horizon is not safe for concurrent use by itself — callers coordinate
// access through a SharedHorizon, which is the only thing allowed to call
// these methods from more than one goroutine.
type Horizon struct {
	now    clock.LogicTime
	maxLen int
	maxAge clock.LogicTime

	serializable *orderedmap.OrderedMap[uuid.UUID, *txn.Serializable]
	readonly     *orderedmap.OrderedMap[uuid.UUID, *txn.ReadOnly]
}

// New builds an empty horizon enforcing maxLen total live transactions and
// maxAge logical-time units since a transaction's start. A zero maxLen or
// maxAge means that limit is not enforced.
func New(maxLen int, maxAge clock.LogicTime) *Horizon {
	return &Horizon{
		maxLen:       maxLen,
		maxAge:       maxAge,
		serializable: orderedmap.New[uuid.UUID, *txn.Serializable](),
		readonly:     orderedmap.New[uuid.UUID, *txn.ReadOnly](),
	}
}

// Len returns the total number of live transactions across both variants.
func (h *Horizon) Len() int {
	return h.serializable.Len() + h.readonly.Len()
}

// Now returns the horizon's current logical time.
func (h *Horizon) Now() clock.LogicTime { return h.now }

// OldestStart returns the start time of the oldest live transaction across
// both variants, or nil if the horizon is empty. Used by the serialization
// stage to pick a safe log-commit offset after every operator, both during
// recovery and in steady state (spec.md §4.8).
func (h *Horizon) OldestStart() *clock.LogicTime {
	var best *clock.LogicTime
	if p := h.serializable.Oldest(); p != nil {
		t := p.Value.StartTime()
		best = &t
	}
	if p := h.readonly.Oldest(); p != nil {
		t := p.Value.StartTime()
		if best == nil || t < *best {
			best = &t
		}
	}
	return best
}

func (h *Horizon) advanceTime(t clock.LogicTime) error {
	if t <= h.now {
		return ports.ErrNotMonotonicTime
	}
	h.now = t
	h.enforceLimits()
	return nil
}

// StartTransaction constructs a transaction of the requested isolation,
// links it bidirectionally with every live serializable transaction (for
// the serializable variant), appends it to the arena, advances time, then
// enforces limits.
func (h *Horizon) StartTransaction(time clock.LogicTime, xid uuid.UUID, isolation txn.Isolation) (uuid.UUID, error) {
	if time <= h.now {
		return uuid.Nil, ports.ErrNotMonotonicTime
	}
	if _, ok := h.serializable.Get(xid); ok {
		return uuid.Nil, ports.ErrInvalidTransactionState
	}
	if _, ok := h.readonly.Get(xid); ok {
		return uuid.Nil, ports.ErrInvalidTransactionState
	}

	switch isolation {
	case txn.Serializable:
		concurrent := make([]uuid.UUID, 0, h.serializable.Len())
		for p := h.serializable.Oldest(); p != nil; p = p.Next() {
			concurrent = append(concurrent, p.Key)
		}
		t := txn.NewSerializable(xid, time, concurrent)
		for _, other := range concurrent {
			if o, ok := h.serializable.Get(other); ok {
				o.AddConcurrent(xid)
			}
		}
		h.serializable.Set(xid, t)
	case txn.NonSerializableRead:
		h.readonly.Set(xid, txn.NewReadOnly(xid, time))
	default:
		return uuid.Nil, ports.ErrInvalidTransactionState
	}

	h.now = time
	h.enforceLimits()
	return xid, nil
}

// Include looks up the transaction, requires it active, and folds item
// into it.
func (h *Horizon) Include(time clock.LogicTime, xid uuid.UUID, item txn.Item) error {
	if err := h.advanceTime(time); err != nil {
		return err
	}
	if s, ok := h.serializable.Get(xid); ok {
		if s.State() != txn.Active {
			return ports.ErrInvalidTransactionState
		}
		s.Include(item)
		return nil
	}
	if r, ok := h.readonly.Get(xid); ok {
		if r.State() != txn.Active {
			return ports.ErrInvalidTransactionState
		}
		r.Include(item)
		return nil
	}
	return ports.ErrNoTransaction
}

// CommitTransaction requires the transaction active, applies every item via
// Include, then prepares it. If preparing fails it removes the transaction
// (unlinking it first) and re-raises; a non-monotonic time or a transaction
// that is not active is reported without removing anything.
func (h *Horizon) CommitTransaction(time clock.LogicTime, xid uuid.UUID, items []txn.Item) (CommitResult, error) {
	if err := h.advanceTime(time); err != nil {
		return CommitResult{}, err
	}

	if s, ok := h.serializable.Get(xid); ok {
		if s.State() != txn.Active {
			return CommitResult{}, ports.ErrInvalidTransactionState
		}
		for _, it := range items {
			s.Include(it)
		}
		pc, err := s.PrepareCommit(h.conflictLookup)
		if err != nil {
			h.unlinkSerializable(s)
			h.serializable.Delete(xid)
			return CommitResult{}, err
		}
		for _, other := range s.ConcurrentXIDs() {
			if o, ok := h.serializable.Get(other); ok {
				o.AddPossibleConflict(xid)
			}
		}
		return CommitResult{Prepared: pc, NeedsCompletion: true}, nil
	}

	if r, ok := h.readonly.Get(xid); ok {
		if r.State() != txn.Active {
			return CommitResult{}, ports.ErrInvalidTransactionState
		}
		for _, it := range items {
			r.Include(it)
		}
		pc, err := r.PrepareCommit()
		if err != nil {
			h.readonly.Delete(xid)
			return CommitResult{}, err
		}
		h.readonly.Delete(xid)
		return CommitResult{Prepared: pc, NeedsCompletion: false}, nil
	}

	return CommitResult{}, ports.ErrNoTransaction
}

// CompleteCommit requires a serializable transaction in Prepared state,
// commits it, unlinks it, and removes it from the arena.
func (h *Horizon) CompleteCommit(time clock.LogicTime, xid uuid.UUID) (txn.Commit, error) {
	if err := h.advanceTime(time); err != nil {
		return txn.Commit{}, err
	}
	s, ok := h.serializable.Get(xid)
	if !ok {
		return txn.Commit{}, ports.ErrNoTransaction
	}
	if s.State() != txn.Prepared {
		return txn.Commit{}, ports.ErrInvalidTransactionState
	}
	c, err := s.Commit()
	if err != nil {
		return txn.Commit{}, err
	}
	h.unlinkSerializable(s)
	h.serializable.Delete(xid)
	return c, nil
}

// RollbackTransaction removes and rolls back the transaction, whichever
// variant it is. A serializable transaction that is already prepared is
// left in place and ErrInvalidTransactionState is returned; only limit
// eviction rolls back a prepared transaction.
func (h *Horizon) RollbackTransaction(time clock.LogicTime, xid uuid.UUID) error {
	if err := h.advanceTime(time); err != nil {
		return err
	}
	if s, ok := h.serializable.Get(xid); ok {
		if s.State() == txn.Prepared {
			return ports.ErrInvalidTransactionState
		}
		h.unlinkSerializable(s)
		s.MarkRolledBack()
		h.serializable.Delete(xid)
		return nil
	}
	if r, ok := h.readonly.Get(xid); ok {
		r.MarkRolledBack()
		h.readonly.Delete(xid)
		return nil
	}
	return ports.ErrNoTransaction
}

// MoveToFuture sets the clock and enforces the age limit (and, as a
// consequence of sharing the same enforcement pass, the size limit).
func (h *Horizon) MoveToFuture(time clock.LogicTime) error {
	return h.advanceTime(time)
}

func (h *Horizon) conflictLookup(xid uuid.UUID) (map[txn.Claim]struct{}, map[tuple.TID]struct{}, bool) {
	s, ok := h.serializable.Get(xid)
	if !ok {
		return nil, nil, false
	}
	claims, spaceKeys := s.ClaimsAndSpaceKeys()
	return claims, spaceKeys, true
}

// unlinkSerializable removes xid from every neighbor's concurrent and
// possible-conflict sets. Must be called before the transaction is removed
// from the arena, so that no dangling reference to it survives (spec.md §3,
// §8 invariant 3).
func (h *Horizon) unlinkSerializable(s *txn.Serializable) {
	xid := s.XID()
	for _, other := range s.ConcurrentXIDs() {
		if o, ok := h.serializable.Get(other); ok {
			o.RemoveConcurrent(xid)
			o.RemovePossibleConflict(xid)
		}
	}
}
