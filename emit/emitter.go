package emit

import "context"

// Emitter receives the events a running execution produces. Implementations
// must not block the scheduler for long and must not panic.
type Emitter interface {
	// Emit sends a single event. Best-effort: implementations that cannot
	// deliver immediately should buffer or drop rather than block.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving order. Returns an error
	// only for backend-level failures, never per-event ones.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered, or ctx
	// expires. Safe to call more than once.
	Flush(ctx context.Context) error
}
