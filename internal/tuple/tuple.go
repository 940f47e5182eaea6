package tuple

import (
	"errors"

	"github.com/google/uuid"
)

// TID identifies a tuple. Assigned at creation, stable across mutations.
type TID = uuid.UUID

// ErrInvalidTuple is returned by the constructors below when a tuple's
// scalars do not match the target relation's latest schema. Callers decide
// whether to surface this as an error; it is a sentinel, not a panic.
var ErrInvalidTuple = errors.New("tuple: scalars do not match relation schema")

// Tuple is (TID, relation-version reference, ordered scalars).
type Tuple struct {
	TID             TID
	RelationNumber  int
	RelationVersion int
	Scalars         []any
}

// New constructs a tuple, validating scalars against the relation's latest
// schema. On mismatch it returns ErrInvalidTuple rather than aborting.
func New(rel *Relation, tid TID, scalars []any) (Tuple, error) {
	if !rel.LatestSchema().Matches(scalars) {
		return Tuple{}, ErrInvalidTuple
	}
	return Tuple{
		TID:             tid,
		RelationNumber:  rel.Number,
		RelationVersion: rel.Versions[len(rel.Versions)-1].Number,
		Scalars:         scalars,
	}, nil
}
