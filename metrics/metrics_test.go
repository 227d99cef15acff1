package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_RecordsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ExecutionStarted()
	m.StepObserved("writer", 12*time.Millisecond, "success")
	m.RetryObserved("writer")
	m.ExecutionFinished("completed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestMetrics_UsesProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
