package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// sseSubscriberBuffer bounds how many unconsumed events a slow HTTP client
// can pile up before it starts missing them; the stream is best-effort per
// the delivery semantics subscribers agree to.
const sseSubscriberBuffer = 64

// SSEEmitter fans events out to per-execution subscriber channels, the
// backing source for the streaming HTTP endpoint. A subscriber only
// receives events emitted after it subscribes.
type SSEEmitter struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func NewSSEEmitter() *SSEEmitter {
	return &SSEEmitter{subs: make(map[string][]chan Event)}
}

func (s *SSEEmitter) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[event.ExecutionID] {
		select {
		case ch <- event:
		default:
			// subscriber is behind; drop rather than block the scheduler
		}
	}
}

func (s *SSEEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Emit(e)
	}
	return nil
}

func (s *SSEEmitter) Flush(context.Context) error { return nil }

// Subscribe registers a channel that receives every subsequent event for
// executionID. The returned func must be called to unsubscribe and close
// the channel once the caller stops draining it.
func (s *SSEEmitter) Subscribe(executionID string) (<-chan Event, func()) {
	ch := make(chan Event, sseSubscriberBuffer)
	s.mu.Lock()
	s.subs[executionID] = append(s.subs[executionID], ch)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[executionID]
		for i, c := range subs {
			if c == ch {
				s.subs[executionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// EncodeEvent frames event per the text/event-stream wire format: an
// "event:" line naming Msg and a "data:" line carrying the JSON body.
func EncodeEvent(event Event) []byte {
	body, _ := json.Marshal(struct {
		ExecutionID string         `json:"execution_id"`
		ThreadID    string         `json:"thread_id,omitempty"`
		Step        int            `json:"step,omitempty"`
		NodeID      string         `json:"node_id,omitempty"`
		Meta        map[string]any `json:"meta,omitempty"`
	}{event.ExecutionID, event.ThreadID, event.Step, event.NodeID, event.Meta})
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Msg, body))
}
