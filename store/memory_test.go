package store

import (
	"context"
	"testing"

	"github.com/agentflow-run/agentflow/model"
)

func TestMemory_EntityLookupsRoundTrip(t *testing.T) {
	m := NewMemory()
	m.PutAgent(&model.Agent{ID: "a1"})
	m.PutTool(&model.Tool{ID: "t1"})
	m.PutWorkflow(&model.Workflow{ID: "w1"})

	if _, ok, _ := m.Agent(context.Background(), "missing"); ok {
		t.Error("expected a missing agent to report not-found")
	}
	if a, ok, _ := m.Agent(context.Background(), "a1"); !ok || a.ID != "a1" {
		t.Errorf("expected agent a1 to round-trip, got %+v, %v", a, ok)
	}
	if _, ok, _ := m.Tool(context.Background(), "t1"); !ok {
		t.Error("expected tool t1 to be found")
	}
	if _, ok, _ := m.Workflow(context.Background(), "w1"); !ok {
		t.Error("expected workflow w1 to be found")
	}
}

func TestMemory_CommitStepIsAtomicWithCheckpoint(t *testing.T) {
	m := NewMemory()
	exec := &model.Execution{ID: "e1", ThreadID: "th1"}
	_ = m.CreateExecution(context.Background(), exec)

	step := &model.ExecutionStep{ExecutionID: "e1", NodeID: "n1", Status: model.StatusRunning}
	if err := m.OpenStep(context.Background(), step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.ID == "" {
		t.Fatal("expected OpenStep to assign an id")
	}

	step.Status = model.StatusCompleted
	snapshot := map[string]any{"output": "done"}
	if err := m.CommitStep(context.Background(), step, "th1", 1, snapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	steps, _ := m.ListSteps(context.Background(), "e1")
	if len(steps) != 1 || steps[0].Status != model.StatusCompleted {
		t.Fatalf("expected the committed step to be updated in place, got %+v", steps)
	}

	idx, snap, found, err := m.LoadLatestCheckpoint(context.Background(), "th1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || idx != 1 || snap["output"] != "done" {
		t.Errorf("expected the checkpoint to be saved alongside the step, got idx=%d snap=%v found=%v", idx, snap, found)
	}
}

func TestMemory_LoadLatestCheckpoint_NotFoundForUnknownThread(t *testing.T) {
	m := NewMemory()
	_, _, found, err := m.LoadLatestCheckpoint(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no checkpoint for an unknown thread")
	}
}
