package engine

import (
	"context"
	"testing"
	"time"

	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/state"
)

func TestResolveTimeout_NodeOverrideWinsOverDefault(t *testing.T) {
	plan := &compiler.Plan{Timeouts: map[string]time.Duration{"slow": 5 * time.Second}}
	if got := resolveTimeout(plan, "slow", 30*time.Second); got != 5*time.Second {
		t.Errorf("expected the node override, got %v", got)
	}
}

func TestResolveTimeout_FallsBackToEngineDefault(t *testing.T) {
	plan := &compiler.Plan{Timeouts: map[string]time.Duration{}}
	if got := resolveTimeout(plan, "n", 30*time.Second); got != 30*time.Second {
		t.Errorf("expected the engine default, got %v", got)
	}
}

func TestResolveTimeout_UnlimitedWhenNeitherIsSet(t *testing.T) {
	plan := &compiler.Plan{Timeouts: map[string]time.Duration{}}
	if got := resolveTimeout(plan, "n", 0); got != 0 {
		t.Errorf("expected unlimited (zero), got %v", got)
	}
}

type slowOperator struct{ delay time.Duration }

func (o *slowOperator) NodeID() string { return "slow" }
func (o *slowOperator) Run(ctx context.Context, _ *state.State, _ state.Delta) (compiler.OperatorResult, error) {
	select {
	case <-time.After(o.delay):
		return compiler.OperatorResult{}, nil
	case <-ctx.Done():
		return compiler.OperatorResult{}, ctx.Err()
	}
}

func TestRunWithTimeout_ExceedingDeadlineReportsNodeTimeout(t *testing.T) {
	op := &slowOperator{delay: 50 * time.Millisecond}
	_, err := runWithTimeout(context.Background(), op, state.New(), state.Delta{}, 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestRunWithTimeout_WithinDeadlineSucceeds(t *testing.T) {
	op := &slowOperator{delay: 1 * time.Millisecond}
	_, err := runWithTimeout(context.Background(), op, state.New(), state.Delta{}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunWithTimeout_ZeroMeansUnlimited(t *testing.T) {
	op := &slowOperator{delay: 5 * time.Millisecond}
	_, err := runWithTimeout(context.Background(), op, state.New(), state.Delta{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
