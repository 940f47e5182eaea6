package txn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"txengine/internal/tuple"
)

// ErrConflict is the sentinel a ConflictError wraps, for errors.Is.
var ErrConflict = errors.New("txengine: conflict")

// ConflictError is raised by PrepareCommit when another transaction that
// reached prepared while self was still active overlaps self's claims or
// space keys.
type ConflictError struct {
	XID            uuid.UUID
	RejectedClaims []Claim
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("txengine: transaction %s conflicts with a concurrent prepared transaction (rejected claims: %v)", e.XID, e.RejectedClaims)
}

// Unwrap makes errors.Is(err, ErrConflict) true for a *ConflictError.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// ErrNonSerializableWriteTransaction is returned by a ReadOnly
// transaction's PrepareCommit once it has stopped being read-only.
var ErrNonSerializableWriteTransaction = errors.New("txengine: non-serializable-read transaction attempted a write")

// ConflictLookup resolves another live transaction's claims and space keys
// by xid, for conflict detection. ok is false if the transaction is no
// longer present (it completed or rolled back between being added to
// possible-conflict and this check).
type ConflictLookup func(xid uuid.UUID) (claims map[Claim]struct{}, spaceKeys map[tuple.TID]struct{}, ok bool)

func intersectClaims(a, b map[Claim]struct{}) []Claim {
	var out []Claim
	for c := range a {
		if _, ok := b[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func intersectsKeys(a, b map[tuple.TID]struct{}) bool {
	// Iterate the smaller set.
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
