// Package txn implements the per-transaction state the horizon manages: the
// serializable variant (effect accumulator, claim set, conflict graph) and
// the non-serializable-read variant (a single readonly bit), plus the
// shared Item/Claim/PreparedCommit/Commit value types and the common
// Transaction interface the horizon dispatches through.
package txn

import (
	"errors"

	"github.com/google/uuid"

	"txengine/internal/clock"
	"txengine/internal/tuple"
)

// ErrInvalidState is returned when an operation is attempted from a state
// that does not permit it (e.g. Commit called before PrepareCommit).
var ErrInvalidState = errors.New("txengine: invalid transaction state")

// State is a transaction's position in its lifecycle state machine:
//
//	active → prepared (serializable only) → committed
//	active → rolled-back
//	prepared → rolled-back (eviction only)
type State int

const (
	Active State = iota
	Prepared
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Claim is an application-level mutex token included in a transaction's
// effect set solely for conflict detection; it never produces tuple
// changes.
type Claim struct {
	ID     string
	Object string
}

// Item is either a Claim or a tuple.Effect — the argument to Include.
type Item struct {
	claim  *Claim
	effect *tuple.Effect
}

// ClaimItem wraps a Claim as an Item.
func ClaimItem(c Claim) Item { return Item{claim: &c} }

// EffectItem wraps a tuple.Effect as an Item.
func EffectItem(e tuple.Effect) Item { return Item{effect: &e} }

// PreparedCommit is a commit that has passed conflict detection but whose
// completion has not yet occurred.
type PreparedCommit struct {
	XID     uuid.UUID
	Effects []tuple.Effect
}

// Commit is the shape emitted after a PreparedCommit completes.
type Commit struct {
	XID     uuid.UUID
	Effects []tuple.Effect
}

// Transaction is the read-only surface Serializable and ReadOnly have in
// common. The horizon does not dispatch through it: its limit enforcement
// switches on the variant.
type Transaction interface {
	XID() uuid.UUID
	StartTime() clock.LogicTime
	State() State
}
