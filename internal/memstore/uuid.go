package memstore

import "github.com/google/uuid"

// UUIDSource is the trivial ports.UUIDSource backed by google/uuid's
// default random source.
type UUIDSource struct{}

// NewUUIDSource builds a UUIDSource.
func NewUUIDSource() UUIDSource { return UUIDSource{} }

func (UUIDSource) New() uuid.UUID { return uuid.New() }
