package txn

import (
	"sync"

	"github.com/google/uuid"

	"txengine/internal/clock"
	"txengine/internal/tuple"
)

// Serializable is the full-isolation transaction variant: it accumulates a
// folded per-TID effect space and a claim set, and maintains a conflict
// graph against every transaction that was concurrent with it.
//
// concurrent and possibleConflict are sets of XIDs, not pointers to other
// Transaction values — resolved through the horizon's arena on each access,
// per spec.md §9's re-architecture note. This is what lets transactions
// form arbitrary cycles without the Go garbage collector ever seeing an
// ownership cycle.
type Serializable struct {
	mu sync.Mutex

	xid       uuid.UUID
	startTime clock.LogicTime
	state     State

	space  map[tuple.TID]tuple.Effect
	claims map[Claim]struct{}

	concurrent       map[uuid.UUID]struct{}
	possibleConflict map[uuid.UUID]struct{}

	preparedEffects []tuple.Effect
}

// NewSerializable builds the empty transaction. concurrentXIDs is every
// serializable transaction alive at start time; the caller (the horizon) is
// responsible for the other half of the bidirectional link: adding xid to
// each of those transactions' concurrent sets.
func NewSerializable(xid uuid.UUID, start clock.LogicTime, concurrentXIDs []uuid.UUID) *Serializable {
	concurrent := make(map[uuid.UUID]struct{}, len(concurrentXIDs))
	for _, c := range concurrentXIDs {
		concurrent[c] = struct{}{}
	}
	return &Serializable{
		xid:              xid,
		startTime:        start,
		state:            Active,
		space:            make(map[tuple.TID]tuple.Effect),
		claims:           make(map[Claim]struct{}),
		concurrent:       concurrent,
		possibleConflict: make(map[uuid.UUID]struct{}),
	}
}

func (s *Serializable) XID() uuid.UUID            { return s.xid }
func (s *Serializable) StartTime() clock.LogicTime { return s.startTime }

func (s *Serializable) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConcurrentXIDs snapshots the current concurrent set.
func (s *Serializable) ConcurrentXIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.concurrent))
	for x := range s.concurrent {
		out = append(out, x)
	}
	return out
}

// AddConcurrent links other into self's concurrent set. Used when a
// transaction starts after self while self is still alive; the links self
// has at its own start are set by NewSerializable.
func (s *Serializable) AddConcurrent(other uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concurrent[other] = struct{}{}
}

// RemoveConcurrent unlinks other from self's concurrent set.
func (s *Serializable) RemoveConcurrent(other uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.concurrent, other)
}

// AddPossibleConflict records that other reached prepared while self was
// still active.
func (s *Serializable) AddPossibleConflict(other uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.possibleConflict[other] = struct{}{}
}

// RemovePossibleConflict unlinks other from self's possible-conflict set.
func (s *Serializable) RemovePossibleConflict(other uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.possibleConflict, other)
}

// Include folds effect into space, or inserts a claim, per spec.md §4.3.
func (s *Serializable) Include(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.claim != nil {
		s.claims[*item.claim] = struct{}{}
		return
	}
	e := *item.effect
	if prior, ok := s.space[e.TID]; ok {
		s.space[e.TID] = tuple.Fold(prior, e)
	} else {
		s.space[e.TID] = e
	}
}

// ClaimsAndSpaceKeys exposes the snapshot a ConflictLookup needs, without
// exposing the live maps.
func (s *Serializable) ClaimsAndSpaceKeys() (claims map[Claim]struct{}, spaceKeys map[tuple.TID]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claims = make(map[Claim]struct{}, len(s.claims))
	for c := range s.claims {
		claims[c] = struct{}{}
	}
	spaceKeys = make(map[tuple.TID]struct{}, len(s.space))
	for k := range s.space {
		spaceKeys[k] = struct{}{}
	}
	return claims, spaceKeys
}

// Conflict implements spec.md §4.3's conflict(): for each transaction in
// possible-conflict, intersect claims and space keys. Returns the first
// overlap found, or nil if none.
func (s *Serializable) Conflict(lookup ConflictLookup) *ConflictError {
	s.mu.Lock()
	possibleConflict := make([]uuid.UUID, 0, len(s.possibleConflict))
	for x := range s.possibleConflict {
		possibleConflict = append(possibleConflict, x)
	}
	myClaims := make(map[Claim]struct{}, len(s.claims))
	for c := range s.claims {
		myClaims[c] = struct{}{}
	}
	mySpaceKeys := make(map[tuple.TID]struct{}, len(s.space))
	for k := range s.space {
		mySpaceKeys[k] = struct{}{}
	}
	s.mu.Unlock()

	for _, other := range possibleConflict {
		otherClaims, otherSpaceKeys, ok := lookup(other)
		if !ok {
			continue
		}
		rejected := intersectClaims(myClaims, otherClaims)
		if len(rejected) > 0 || intersectsKeys(mySpaceKeys, otherSpaceKeys) {
			return &ConflictError{XID: s.xid, RejectedClaims: rejected}
		}
	}
	return nil
}

// PrepareCommit computes Conflict(); on conflict it rolls back and returns
// the error. Otherwise it transitions to Prepared and returns a
// PreparedCommit whose effect set drops every Viewed entry from space.
func (s *Serializable) PrepareCommit(lookup ConflictLookup) (PreparedCommit, error) {
	if conflict := s.Conflict(lookup); conflict != nil {
		s.mu.Lock()
		s.state = RolledBack
		s.mu.Unlock()
		return PreparedCommit{}, conflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Prepared
	effects := make([]tuple.Effect, 0, len(s.space))
	for _, e := range s.space {
		if e.Kind == tuple.Viewed {
			continue
		}
		effects = append(effects, e)
	}
	s.preparedEffects = effects
	return PreparedCommit{XID: s.xid, Effects: effects}, nil
}

// Commit transitions Prepared → Committed and emits the Commit. Callable
// only from the horizon's CompleteCommit.
func (s *Serializable) Commit() (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Prepared {
		return Commit{}, ErrInvalidState
	}
	s.state = Committed
	return Commit{XID: s.xid, Effects: s.preparedEffects}, nil
}

// MarkRolledBack transitions the transaction to RolledBack. The caller (the
// horizon) is responsible for unlinking self from every neighbor first.
func (s *Serializable) MarkRolledBack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = RolledBack
}
