package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"txengine/internal/memstore"
	"txengine/internal/ports"
	"txengine/internal/tuple"
)

func TestLogPushAndNonBlockingIterate(t *testing.T) {
	l := memstore.NewLog()
	ctx := context.Background()
	xid := uuid.New()

	if err := l.Push(ctx, ports.AppliedOperator{Time: 1, XID: xid}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := l.Push(ctx, ports.AppliedOperator{Time: 2, XID: xid}); err != nil {
		t.Fatalf("push: %v", err)
	}

	out, errc := l.Iterate(ctx, false)
	var got []ports.AppliedOperator
	for op := range out {
		got = append(got, op)
	}
	if err := <-errc; err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestLogCommitOffsetFiltersBacklog(t *testing.T) {
	l := memstore.NewLog()
	ctx := context.Background()
	xid := uuid.New()
	_ = l.Push(ctx, ports.AppliedOperator{Time: 1, XID: xid})
	_ = l.Push(ctx, ports.AppliedOperator{Time: 2, XID: xid})
	_ = l.Push(ctx, ports.AppliedOperator{Time: 3, XID: xid})

	if err := l.CommitOffset(ctx, 2); err != nil {
		t.Fatalf("commit offset: %v", err)
	}

	out, errc := l.Iterate(ctx, false)
	var got []ports.AppliedOperator
	for op := range out {
		got = append(got, op)
	}
	<-errc
	if len(got) != 1 || got[0].Time != 3 {
		t.Fatalf("expected only time=3 after offset commit, got %+v", got)
	}
}

func TestLogBlockingIterateSeesNewPushes(t *testing.T) {
	l := memstore.NewLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	xid := uuid.New()

	out, _ := l.Iterate(ctx, true)

	if err := l.Push(context.Background(), ports.AppliedOperator{Time: 1, XID: xid}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case op := <-out:
		if op.Time != 1 {
			t.Fatalf("unexpected op: %+v", op)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking iterate never saw the push")
	}
}

func TestHeapApplyAndQuery(t *testing.T) {
	h := memstore.NewHeap()
	ctx := context.Background()
	tid := uuid.New()

	err := h.Map(ctx, []tuple.Effect{
		{Kind: tuple.New_, TID: tid, Value: tuple.Tuple{TID: tid, RelationNumber: 1, Scalars: []any{"a"}}},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	found, err := h.TuplesWithAttribute(ctx, 1, 0, "a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 tuple, got %d", len(found))
	}

	if err := h.Map(ctx, []tuple.Effect{{Kind: tuple.Deleted, TID: tid, Value: tuple.Tuple{TID: tid}}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	found, _ = h.TuplesWithAttribute(ctx, 1, 0, "a")
	if len(found) != 0 {
		t.Fatalf("expected 0 tuples after delete, got %d", len(found))
	}
}

func TestHeapMapIdempotentlyToleratesReplay(t *testing.T) {
	h := memstore.NewHeap()
	ctx := context.Background()
	tid := uuid.New()
	absent := uuid.New()

	effects := []tuple.Effect{
		{Kind: tuple.New_, TID: tid, Value: tuple.Tuple{TID: tid, RelationNumber: 1, Scalars: []any{"a"}}},
	}
	if err := h.MapIdempotently(ctx, effects); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Replaying the same New_ effect must not error or duplicate.
	if err := h.MapIdempotently(ctx, effects); err != nil {
		t.Fatalf("replayed apply: %v", err)
	}
	found, _ := h.TuplesWithAttribute(ctx, 1, 0, "a")
	if len(found) != 1 {
		t.Fatalf("expected exactly 1 tuple after replay, got %d", len(found))
	}

	// Deleted on an absent TID must be a no-op, not an error.
	del := []tuple.Effect{{Kind: tuple.Deleted, TID: absent, Value: tuple.Tuple{TID: absent}}}
	if err := h.MapIdempotently(ctx, del); err != nil {
		t.Fatalf("delete of absent tid: %v", err)
	}
}

func TestRelationsAddAndLookup(t *testing.T) {
	r := memstore.NewRelations()
	ctx := context.Background()
	rel := &tuple.Relation{Number: 1, Versions: []tuple.RelationVersion{{Number: 0}}}

	if err := r.Add(ctx, rel); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(ctx, rel); !errors.Is(err, ports.ErrNotUniqueRelationNumber) {
		t.Fatalf("expected ErrNotUniqueRelationNumber, got %v", err)
	}

	got, err := r.Relation(ctx, 1)
	if err != nil || got.Number != 1 {
		t.Fatalf("unexpected lookup result: %+v, %v", got, err)
	}

	if _, err := r.Relation(ctx, 2); !errors.Is(err, ports.ErrNoRelation) {
		t.Fatalf("expected ErrNoRelation, got %v", err)
	}
}

func TestBlobGetSetRoundtrip(t *testing.T) {
	b := memstore.NewBlob()
	ctx := context.Background()

	data, err := b.Get(ctx)
	if err != nil || data != nil {
		t.Fatalf("expected nil, nil for unset blob, got %v, %v", data, err)
	}

	if err := b.Set(ctx, []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err = b.Get(ctx)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected get: %s, %v", data, err)
	}
}

func TestUUIDSourceProducesUniqueValues(t *testing.T) {
	src := memstore.NewUUIDSource()
	a, b := src.New(), src.New()
	if a == b {
		t.Fatal("expected distinct UUIDs")
	}
}
