package emit

import "context"

// NullEmitter discards every event. Useful where observability overhead is
// unwanted, e.g. synchronous unit tests that don't care about events.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
