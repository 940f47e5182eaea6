package txn

import (
	"sync"

	"github.com/google/uuid"

	"txengine/internal/clock"
	"txengine/internal/tuple"
)

// ReadOnly is the non-serializable-read transaction variant: it tracks a
// single is_readonly bit and has no cross-transaction links, because a
// transaction that never writes cannot conflict with anything.
type ReadOnly struct {
	mu sync.Mutex

	xid       uuid.UUID
	startTime clock.LogicTime
	state     State
	readonly  bool
}

// NewReadOnly builds a new read-only-until-proven-otherwise transaction.
func NewReadOnly(xid uuid.UUID, start clock.LogicTime) *ReadOnly {
	return &ReadOnly{xid: xid, startTime: start, state: Active, readonly: true}
}

func (r *ReadOnly) XID() uuid.UUID             { return r.xid }
func (r *ReadOnly) StartTime() clock.LogicTime { return r.startTime }

func (r *ReadOnly) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Include clears the readonly bit on any effect other than Viewed, and on
// any Claim (a claim is a write-intent mutex token, never read-only).
func (r *ReadOnly) Include(item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.claim != nil {
		r.readonly = false
		return
	}
	if item.effect.Kind != tuple.Viewed {
		r.readonly = false
	}
}

// PrepareCommit returns an empty PreparedCommit while still read-only, else
// fails with ErrNonSerializableWriteTransaction.
func (r *ReadOnly) PrepareCommit() (PreparedCommit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.readonly {
		r.state = RolledBack
		return PreparedCommit{}, ErrNonSerializableWriteTransaction
	}
	r.state = Committed
	return PreparedCommit{XID: r.xid}, nil
}

// MarkRolledBack transitions the transaction to RolledBack.
func (r *ReadOnly) MarkRolledBack() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RolledBack
}
