// Package ports declares the external collaborator interfaces the engine
// depends on (spec.md §6): the write-ahead log, the tuple heap, the
// relation catalog, a UUID source, and a durable blob. Concrete
// implementations (a chat transport, a database, ...) live outside this
// module; internal/memstore supplies in-memory ones for tests.
package ports

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"txengine/internal/clock"
	"txengine/internal/tuple"
	"txengine/internal/txn"
)

// Wire-contract error sentinels (spec.md §6, §7).
var (
	ErrNoTransaction                   = errors.New("txengine: no such transaction")
	ErrInvalidTransactionState         = errors.New("txengine: invalid transaction state")
	ErrNonSerializableWriteTransaction = errors.New("txengine: write attempted on a non-serializable-read transaction")
	ErrNoRelation                      = errors.New("txengine: no such relation")
	ErrNotUniqueRelationNumber         = errors.New("txengine: relation number already in use")
	ErrInvalidRelationTuple            = errors.New("txengine: tuple does not match relation schema")
	ErrNotMonotonicTime                = errors.New("txengine: time is not strictly greater than the horizon's current time")
)

// AppliedOperator is a single linearized operator as it appears in the log:
// a LogicTime-stamped instruction destined for the horizon.
type AppliedOperator struct {
	Time LogicTime
	XID  uuid.UUID
	Op   Operator
}

// LogicTime is re-exported so ports callers do not need to import
// internal/clock directly for this one type.
type LogicTime = clock.LogicTime

// OperatorKind tags the variant held by an Operator.
type OperatorKind int

const (
	OpStartTransaction OperatorKind = iota
	OpInclude
	OpCommitTransaction
	OpCompleteCommit
	OpRollbackTransaction
)

func (k OperatorKind) String() string {
	switch k {
	case OpStartTransaction:
		return "start-transaction"
	case OpInclude:
		return "include"
	case OpCommitTransaction:
		return "commit-transaction"
	case OpCompleteCommit:
		return "complete-commit"
	case OpRollbackTransaction:
		return "rollback-transaction"
	default:
		return "unknown"
	}
}

// Operator is one relational operator as recorded in the log.
type Operator struct {
	Kind      OperatorKind
	Item      txn.Item   // meaningful for OpInclude
	Items     []txn.Item // meaningful for OpCommitTransaction
	Isolation Isolation  // meaningful for OpStartTransaction
}

// Isolation selects a transaction's concurrency-control variant.
type Isolation int

const (
	Serializable Isolation = iota
	NonSerializableRead
)

// Log is the write-ahead log of applied operators.
type Log interface {
	// Push appends op and must be durable before it returns.
	Push(ctx context.Context, op AppliedOperator) error
	// Iterate yields operators from the last committed offset to the end of
	// the log. If blocking is false it stops at end-of-log; if true it keeps
	// waiting for new operators (steady state).
	Iterate(ctx context.Context, blocking bool) (<-chan AppliedOperator, <-chan error)
	// CommitOffset is advisory: it only governs where Iterate resumes after
	// restart.
	CommitOffset(ctx context.Context, t LogicTime) error
	// CurrentOffset returns the last committed offset, or nil if none.
	CurrentOffset(ctx context.Context) (*LogicTime, error)
}

// Heap is the tuple store materialized from committed effects.
type Heap interface {
	// Map applies effects to the heap.
	Map(ctx context.Context, effects []tuple.Effect) error
	// MapIdempotently applies effects tolerating replay: New on an existing
	// TID is treated as Mutated, and Deleted on an absent TID is a no-op.
	MapIdempotently(ctx context.Context, effects []tuple.Effect) error
	// TuplesWithAttribute performs a full-scan equality search.
	TuplesWithAttribute(ctx context.Context, relationNumber, attributeNumber int, scalar any) ([]tuple.Tuple, error)
}

// Relations is the relation catalog, replicated from a durable blob on
// startup.
type Relations interface {
	Relation(ctx context.Context, number int) (*tuple.Relation, error) // ErrNoRelation
	Add(ctx context.Context, rel *tuple.Relation) error                // ErrNotUniqueRelationNumber
}

// UUIDSource produces uniform random 128-bit identifiers.
type UUIDSource interface {
	New() uuid.UUID
}

// DurableBlob is a named external byte container whose current value
// survives restart.
type DurableBlob interface {
	Get(ctx context.Context) ([]byte, error) // nil, nil if never set
	Set(ctx context.Context, data []byte) error
}
