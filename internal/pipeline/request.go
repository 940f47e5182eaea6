// Package pipeline wires the three cooperating stages that turn a stream of
// client-submitted operators into horizon state, persisted heap effects, and
// caller notifications: the Serializer (log append + horizon apply), the
// CommitPublisher (output-commits, under the shared horizon), and the
// HeapApplier (idempotent-first-batch heap mutation).
package pipeline

import (
	"github.com/google/uuid"

	"txengine/internal/horizon"
	"txengine/internal/ports"
)

// Request is one client-submitted operator awaiting serialization.
type Request struct {
	XID    uuid.UUID
	Op     ports.Operator
	Result chan<- Outcome // optional; nil if the caller does not want a reply
}

// Outcome is the result of applying a Request to the horizon.
type Outcome struct {
	Commit horizon.CommitResult
	Err    error
}
