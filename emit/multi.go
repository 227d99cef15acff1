package emit

import "context"

// multiEmitter fans every event out to a fixed set of emitters, letting a
// process wire log output, history buffering, SSE streaming, and tracing
// from the same scheduler calls.
type multiEmitter struct {
	emitters []Emitter
}

// Multi composes emitters into one. Emit/EmitBatch are forwarded to every
// member in order; Flush aggregates the first error encountered.
func Multi(emitters ...Emitter) Emitter {
	return &multiEmitter{emitters: emitters}
}

func (m *multiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

func (m *multiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiEmitter) Flush(ctx context.Context) error {
	var first error
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
