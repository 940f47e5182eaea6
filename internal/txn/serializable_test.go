package txn_test

import (
	"testing"

	"github.com/google/uuid"

	"txengine/internal/tuple"
	"txengine/internal/txn"
)

func noConflictLookup(uuid.UUID) (map[txn.Claim]struct{}, map[tuple.TID]struct{}, bool) {
	return nil, nil, false
}

func TestSerializableIncludeFoldsEffectsOnSameTID(t *testing.T) {
	xid := uuid.New()
	s := txn.NewSerializable(xid, 1, nil)
	tid := uuid.New()

	s.Include(txn.EffectItem(tuple.ViewedEffect(tid)))
	s.Include(txn.EffectItem(tuple.Effect{Kind: tuple.Mutated, TID: tid, Value: tuple.Tuple{TID: tid}}))

	_, spaceKeys := s.ClaimsAndSpaceKeys()
	if _, ok := spaceKeys[tid]; !ok {
		t.Fatalf("expected folded effect to be present in space for tid %v", tid)
	}
}

func TestSerializableIncludeClaim(t *testing.T) {
	s := txn.NewSerializable(uuid.New(), 1, nil)
	c := txn.Claim{ID: "lock", Object: "row-1"}
	s.Include(txn.ClaimItem(c))

	claims, _ := s.ClaimsAndSpaceKeys()
	if _, ok := claims[c]; !ok {
		t.Fatal("expected claim to be recorded")
	}
}

func TestPrepareCommitNoConflictTransitionsToPrepared(t *testing.T) {
	xid := uuid.New()
	s := txn.NewSerializable(xid, 1, nil)
	tid := uuid.New()
	s.Include(txn.EffectItem(tuple.Effect{Kind: tuple.Mutated, TID: tid, Value: tuple.Tuple{TID: tid}}))

	pc, err := s.PrepareCommit(noConflictLookup)
	if err != nil {
		t.Fatalf("unexpected conflict: %v", err)
	}
	if s.State() != txn.Prepared {
		t.Fatalf("expected Prepared state, got %v", s.State())
	}
	if len(pc.Effects) != 1 {
		t.Fatalf("expected 1 effect in prepared commit, got %d", len(pc.Effects))
	}
}

func TestPrepareCommitDropsViewedEntries(t *testing.T) {
	s := txn.NewSerializable(uuid.New(), 1, nil)
	viewedTID := uuid.New()
	mutatedTID := uuid.New()
	s.Include(txn.EffectItem(tuple.ViewedEffect(viewedTID)))
	s.Include(txn.EffectItem(tuple.Effect{Kind: tuple.Mutated, TID: mutatedTID, Value: tuple.Tuple{TID: mutatedTID}}))

	pc, err := s.PrepareCommit(noConflictLookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range pc.Effects {
		if e.TID == viewedTID {
			t.Fatal("Viewed-only TID should not appear in the prepared commit")
		}
	}
	if len(pc.Effects) != 1 {
		t.Fatalf("expected exactly 1 effect, got %d", len(pc.Effects))
	}
}

func TestConflictDetectsClaimOverlap(t *testing.T) {
	xid := uuid.New()
	other := uuid.New()
	s := txn.NewSerializable(xid, 1, nil)
	c := txn.Claim{ID: "lock", Object: "row-1"}
	s.Include(txn.ClaimItem(c))
	s.AddPossibleConflict(other)

	lookup := func(x uuid.UUID) (map[txn.Claim]struct{}, map[tuple.TID]struct{}, bool) {
		if x != other {
			return nil, nil, false
		}
		return map[txn.Claim]struct{}{c: {}}, nil, true
	}

	_, err := s.PrepareCommit(lookup)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	var ce *txn.ConflictError
	if !asConflictError(err, &ce) {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
	if len(ce.RejectedClaims) != 1 || ce.RejectedClaims[0] != c {
		t.Fatalf("expected rejected claim %v, got %v", c, ce.RejectedClaims)
	}
	if s.State() != txn.RolledBack {
		t.Fatalf("expected RolledBack after conflict, got %v", s.State())
	}
}

func TestConflictDetectsSpaceKeyOverlap(t *testing.T) {
	xid := uuid.New()
	other := uuid.New()
	tid := uuid.New()
	s := txn.NewSerializable(xid, 1, nil)
	s.Include(txn.EffectItem(tuple.Effect{Kind: tuple.Mutated, TID: tid, Value: tuple.Tuple{TID: tid}}))
	s.AddPossibleConflict(other)

	lookup := func(x uuid.UUID) (map[txn.Claim]struct{}, map[tuple.TID]struct{}, bool) {
		if x != other {
			return nil, nil, false
		}
		return nil, map[tuple.TID]struct{}{tid: {}}, true
	}

	if _, err := s.PrepareCommit(lookup); err == nil {
		t.Fatal("expected conflict error on overlapping space key")
	}
}

func asConflictError(err error, out **txn.ConflictError) bool {
	ce, ok := err.(*txn.ConflictError)
	if ok {
		*out = ce
	}
	return ok
}
