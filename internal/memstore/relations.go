package memstore

import (
	"context"
	"sync"

	"txengine/internal/ports"
	"txengine/internal/tuple"
)

// Relations is an in-memory ports.Relations catalog.
type Relations struct {
	mu  sync.RWMutex
	byN map[int]*tuple.Relation
}

// NewRelations builds an empty catalog.
func NewRelations() *Relations { return &Relations{byN: make(map[int]*tuple.Relation)} }

func (r *Relations) Relation(ctx context.Context, number int) (*tuple.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.byN[number]
	if !ok {
		return nil, ports.ErrNoRelation
	}
	return rel, nil
}

func (r *Relations) Add(ctx context.Context, rel *tuple.Relation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byN[rel.Number]; ok {
		return ports.ErrNotUniqueRelationNumber
	}
	r.byN[rel.Number] = rel
	return nil
}
