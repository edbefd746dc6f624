package coordinator

import (
	"context"
	"encoding/json"

	"mtd-vat-service/internal/models"
)

// Processor runs one domain operation and returns a tagged outcome. A non-nil
// error means the operation's fate is unknown (infrastructure trouble), not a
// decided negative result; decided failures are outcomes.
//
// Processors registered here must be idempotent with respect to their side
// effect (replace-style writes, not increments): duplicate queue deliveries
// re-run the operation. A non-idempotent operation needs its own dedup token
// downstream before it can be registered.
type Processor func(ctx context.Context, rc models.RequestContext, args json.RawMessage) (models.Outcome, error)

// Registry maps operation names to processors. Populated at startup, read-only
// afterwards.
type Registry struct {
	procs map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Processor)}
}

func (r *Registry) Register(operation string, p Processor) {
	if operation == "" || p == nil {
		return
	}
	r.procs[operation] = p
}

func (r *Registry) Lookup(operation string) (Processor, bool) {
	p, ok := r.procs[operation]
	return p, ok
}
