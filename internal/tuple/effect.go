package tuple

// EffectKind tags the variant held by an Effect.
type EffectKind int

const (
	Viewed EffectKind = iota
	New_
	Mutated
	Deleted
)

// Effect is a per-TID effect: a read-only observation, a creation, an
// in-place update, or a removal. Viewed and Deleted carry only a TID;
// New_ and Mutated carry the tuple.
type Effect struct {
	Kind  EffectKind
	TID   TID
	Value Tuple // meaningful for New_ and Mutated
}

// ViewedEffect builds a read-only observation effect.
func ViewedEffect(tid TID) Effect { return Effect{Kind: Viewed, TID: tid} }

// NewEffect builds a creation effect for t, validating t's scalars against
// rel's latest schema. Returns ErrInvalidTuple on mismatch.
func NewEffect(rel *Relation, tid TID, scalars []any) (Effect, error) {
	t, err := New(rel, tid, scalars)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Kind: New_, TID: tid, Value: t}, nil
}

// MutatedEffect builds an in-place-update effect for t, validating t's
// scalars against rel's latest schema. Returns ErrInvalidTuple on mismatch.
func MutatedEffect(rel *Relation, tid TID, scalars []any) (Effect, error) {
	t, err := New(rel, tid, scalars)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Kind: Mutated, TID: tid, Value: t}, nil
}

// DeletedEffect builds a removal effect.
func DeletedEffect(tid TID) Effect { return Effect{Kind: Deleted, TID: tid} }

// Fold combines a prior and a later effect on the same TID into a single
// equivalent effect, per the table:
//
//	          | Viewed | New_   | Mutated     | Deleted
//	----------|--------|--------|-------------|--------
//	Viewed    | later  | New_   | Mutated     | Deleted
//	New_      | New_   | later  | New_(t2)    | Deleted
//	Mutated   | Mutated| Mutated(t2)| later   | Deleted
//	Deleted   | Deleted| Mutated(t2)| Deleted | Deleted
//
// Viewed is the identity element: Fold(Viewed, e) == e for any e.
func Fold(prior, later Effect) Effect {
	switch prior.Kind {
	case Viewed:
		return later
	case New_:
		switch later.Kind {
		case Viewed:
			return prior
		case New_:
			return later
		case Mutated:
			return Effect{Kind: New_, TID: prior.TID, Value: later.Value}
		case Deleted:
			return later
		}
	case Mutated:
		switch later.Kind {
		case Viewed:
			return prior
		case New_:
			return Effect{Kind: Mutated, TID: prior.TID, Value: later.Value}
		case Mutated:
			return later
		case Deleted:
			return later
		}
	case Deleted:
		switch later.Kind {
		case Viewed:
			return prior
		case New_:
			return Effect{Kind: Mutated, TID: prior.TID, Value: later.Value}
		case Mutated:
			return prior
		case Deleted:
			return later
		}
	}
	return later
}
