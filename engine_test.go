package txengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"txengine"
	"txengine/internal/memstore"
	"txengine/internal/ports"
	"txengine/internal/tuple"
	"txengine/internal/txn"
)

var widgetRelation = &tuple.Relation{
	Number: 1,
	Versions: []tuple.RelationVersion{
		{Number: 0, Schema: tuple.Schema{{Kind: tuple.DomainString}}},
	},
}

func newTestEngine(t *testing.T) (*txengine.Engine, ports.UUIDSource) {
	t.Helper()
	log := memstore.NewLog()
	heap := memstore.NewHeap()
	relations := memstore.NewRelations()
	uuids := memstore.NewUUIDSource()
	blob := memstore.NewBlob()

	if err := relations.Add(context.Background(), widgetRelation); err != nil {
		t.Fatalf("seed relation: %v", err)
	}

	e, err := txengine.New(context.Background(), log, heap, relations, uuids, blob,
		txengine.WithBufferPolicy(1, time.Hour))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return e, uuids
}

func TestEngineCommitAndView(t *testing.T) {
	e, uuids := newTestEngine(t)
	ctx := context.Background()

	xid, err := e.StartTransaction(ctx, txn.Serializable)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	tid := uuids.New()
	effect, err := tuple.NewEffect(widgetRelation, tid, []any{"widget-a"})
	if err != nil {
		t.Fatalf("build effect: %v", err)
	}

	commit, err := e.CommitTransaction(ctx, xid, []txn.Item{txn.EffectItem(effect)})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(commit.Effects) != 1 {
		t.Fatalf("expected 1 effect in commit, got %d", len(commit.Effects))
	}

	xid2, err := e.StartTransaction(ctx, txn.NonSerializableRead)
	if err != nil {
		t.Fatalf("start reader: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var found []tuple.Tuple
	for {
		found, err = e.View(ctx, xid2, 1, 0, "widget-a")
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if len(found) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("view never observed the committed tuple")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := e.CommitTransaction(ctx, xid2, nil); err != nil {
		t.Fatalf("commit reader: %v", err)
	}
}

func TestEngineConflictingWritersSecondFails(t *testing.T) {
	e, uuids := newTestEngine(t)
	ctx := context.Background()
	tid := uuids.New()

	x1, err := e.StartTransaction(ctx, txn.Serializable)
	if err != nil {
		t.Fatalf("start x1: %v", err)
	}
	x2, err := e.StartTransaction(ctx, txn.Serializable)
	if err != nil {
		t.Fatalf("start x2: %v", err)
	}

	e1, _ := tuple.NewEffect(widgetRelation, tid, []any{"a"})
	if _, err := e.CommitTransaction(ctx, x1, []txn.Item{txn.EffectItem(e1)}); err != nil {
		t.Fatalf("commit x1: %v", err)
	}

	e2, _ := tuple.MutatedEffect(widgetRelation, tid, []any{"b"})
	_, err = e.CommitTransaction(ctx, x2, []txn.Item{txn.EffectItem(e2)})
	var ce *txn.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *txn.ConflictError, got %v", err)
	}
}

func TestEngineRollbackDiscardsState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	xid, err := e.StartTransaction(ctx, txn.Serializable)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.RollbackTransaction(ctx, xid); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := e.RollbackTransaction(ctx, xid); !errors.Is(err, ports.ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction on double rollback, got %v", err)
	}
}

// TestEngineRestartTwiceAfterCompletedCommit guards against the blob never
// being cleared once a released batch has been completed and heap-applied:
// without that, every restart — clean or crashed — would unconditionally
// redeliver the last-ever-persisted batch, and a second restart would fail
// recovery entirely because the replayed xid no longer exists in the
// horizon.
func TestEngineRestartTwiceAfterCompletedCommit(t *testing.T) {
	ctx := context.Background()
	log := memstore.NewLog()
	heap := memstore.NewHeap()
	relations := memstore.NewRelations()
	uuids := memstore.NewUUIDSource()
	blob := memstore.NewBlob()

	if err := relations.Add(ctx, widgetRelation); err != nil {
		t.Fatalf("seed relation: %v", err)
	}

	e1, err := txengine.New(ctx, log, heap, relations, uuids, blob, txengine.WithBufferPolicy(1, time.Hour))
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	xid, err := e1.StartTransaction(ctx, txn.Serializable)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	effect, err := tuple.NewEffect(widgetRelation, uuids.New(), []any{"widget-restart"})
	if err != nil {
		t.Fatalf("build effect: %v", err)
	}
	if _, err := e1.CommitTransaction(ctx, xid, []txn.Item{txn.EffectItem(effect)}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := blob.Get(ctx)
		if err != nil {
			t.Fatalf("blob get: %v", err)
		}
		if len(data) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("blob was never cleared after completion")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := e1.Close(); err != nil {
		t.Fatalf("close 1: %v", err)
	}

	e2, err := txengine.New(ctx, log, heap, relations, uuids, blob, txengine.WithBufferPolicy(1, time.Hour))
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := e2.Close(); err != nil {
		t.Fatalf("close 2: %v", err)
	}

	e3, err := txengine.New(ctx, log, heap, relations, uuids, blob, txengine.WithBufferPolicy(1, time.Hour))
	if err != nil {
		t.Fatalf("third start: %v", err)
	}
	if err := e3.Close(); err != nil {
		t.Fatalf("close 3: %v", err)
	}
}

func TestEngineNonSerializableWriteRejected(t *testing.T) {
	e, uuids := newTestEngine(t)
	ctx := context.Background()

	xid, err := e.StartTransaction(ctx, txn.NonSerializableRead)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	effect, _ := tuple.NewEffect(widgetRelation, uuids.New(), []any{"nope"})
	_, err = e.CommitTransaction(ctx, xid, []txn.Item{txn.EffectItem(effect)})
	if !errors.Is(err, txn.ErrNonSerializableWriteTransaction) {
		t.Fatalf("expected ErrNonSerializableWriteTransaction, got %v", err)
	}
}
