package cost

import "testing"

func TestRecord_PricesKnownModel(t *testing.T) {
	tr := NewTracker()
	call := tr.Record("draft", "gpt-4o", 1000, 500)
	want := (1000.0/1_000_000)*2.50 + (500.0/1_000_000)*10.00
	if call.CostUSD != want {
		t.Errorf("expected cost %v, got %v", want, call.CostUSD)
	}
	if tr.Total() != want {
		t.Errorf("expected total %v, got %v", want, tr.Total())
	}
}

func TestRecord_UnknownModelPricesAtZero(t *testing.T) {
	tr := NewTracker()
	call := tr.Record("draft", "some-future-model", 1000, 500)
	if call.CostUSD != 0 {
		t.Errorf("expected zero cost for unknown model, got %v", call.CostUSD)
	}
}

func TestCalls_AccumulatesAcrossRecords(t *testing.T) {
	tr := NewTracker()
	tr.Record("a", "gpt-4o", 100, 50)
	tr.Record("b", "gpt-4o-mini", 200, 100)
	if len(tr.Calls()) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(tr.Calls()))
	}
}
