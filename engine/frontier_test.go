package engine

import (
	"context"
	"testing"

	"github.com/agentflow-run/agentflow/state"
)

func TestComputeOrderKey_DeterministicAcrossCalls(t *testing.T) {
	a := ComputeOrderKey("fanout", 1)
	b := ComputeOrderKey("fanout", 1)
	if a != b {
		t.Errorf("expected the same (parent, index) to produce the same key, got %d and %d", a, b)
	}
	if ComputeOrderKey("fanout", 1) == ComputeOrderKey("fanout", 2) {
		t.Error("expected distinct edge indices to produce distinct keys")
	}
}

func TestFrontier_DequeuesInOrderKeyOrder(t *testing.T) {
	f := NewFrontier(8)
	ctx := context.Background()

	items := []WorkItem{
		{NodeID: "c", OrderKey: 30},
		{NodeID: "a", OrderKey: 10},
		{NodeID: "b", OrderKey: 20},
	}
	for _, item := range items {
		if err := f.Enqueue(ctx, item); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var got []string
	for i := 0; i < len(items); i++ {
		item, err := f.Dequeue(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, item.NodeID)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected dequeue order %v, got %v", want, got)
			break
		}
	}
}

func TestFrontier_DequeueRespectsContextCancellation(t *testing.T) {
	f := NewFrontier(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Dequeue(ctx); err == nil {
		t.Error("expected a cancelled context to fail Dequeue")
	}
}

func TestFrontier_EnqueuePayloadRoundTrips(t *testing.T) {
	f := NewFrontier(1)
	ctx := context.Background()
	payload := state.Delta{"x": 1}
	if err := f.Enqueue(ctx, WorkItem{NodeID: "n", Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item, err := f.Dequeue(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Payload["x"] != 1 {
		t.Errorf("expected payload to round-trip, got %v", item.Payload)
	}
}
