package memstore

import (
	"context"
	"sync"
)

// Blob is an in-memory ports.DurableBlob. It does not actually survive a
// process restart — a real deployment wires a file- or object-store-backed
// adapter here instead — but gives the buffer and recovery paths something
// to exercise in tests.
type Blob struct {
	mu   sync.Mutex
	data []byte
}

// NewBlob builds an empty Blob.
func NewBlob() *Blob { return &Blob{} }

func (b *Blob) Get(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data, nil
}

func (b *Blob) Set(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data
	return nil
}
