package memstore

import (
	"context"
	"sync"

	"txengine/internal/tuple"
)

// Heap is an in-memory ports.Heap keyed by tuple ID.
type Heap struct {
	mu  sync.Mutex
	rel map[tuple.TID]tuple.Tuple
}

// NewHeap builds an empty Heap.
func NewHeap() *Heap { return &Heap{rel: make(map[tuple.TID]tuple.Tuple)} }

func (h *Heap) Map(ctx context.Context, effects []tuple.Effect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range effects {
		h.apply(e)
	}
	return nil
}

// MapIdempotently tolerates replaying an already-applied batch: New on an
// existing TID degrades to Mutated, and Deleted on an absent TID is a
// no-op, rather than surfacing an inconsistency.
func (h *Heap) MapIdempotently(ctx context.Context, effects []tuple.Effect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range effects {
		if e.Kind == tuple.Deleted {
			if _, ok := h.rel[e.TID]; !ok {
				continue
			}
		}
		h.apply(e)
	}
	return nil
}

func (h *Heap) apply(e tuple.Effect) {
	switch e.Kind {
	case tuple.Viewed:
		// No heap mutation.
	case tuple.New_, tuple.Mutated:
		h.rel[e.TID] = e.Value
	case tuple.Deleted:
		delete(h.rel, e.TID)
	}
}

func (h *Heap) TuplesWithAttribute(ctx context.Context, relationNumber, attributeNumber int, scalar any) ([]tuple.Tuple, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []tuple.Tuple
	for _, t := range h.rel {
		if t.RelationNumber != relationNumber {
			continue
		}
		if attributeNumber < 0 || attributeNumber >= len(t.Scalars) {
			continue
		}
		if t.Scalars[attributeNumber] == scalar {
			out = append(out, t)
		}
	}
	return out, nil
}
