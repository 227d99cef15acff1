// Package cost attributes a dollar figure to each LLM call an agent node
// makes, from a static per-model pricing table, and accumulates it per
// execution for the step metadata and API responses.
package cost

import "sync"

// Pricing is USD per 1M tokens, input and output priced separately.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultPricing covers the models the bundled provider adapters target.
// Update as providers change prices; a model absent from this table is
// still tracked, at zero cost, rather than rejected.
var defaultPricing = map[string]Pricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Call is one priced LLM invocation, attributed to the node that made it.
type Call struct {
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Tracker accumulates cost across every LLM call in one execution.
type Tracker struct {
	pricing map[string]Pricing

	mu    sync.Mutex
	calls []Call
	total float64
}

func NewTracker() *Tracker {
	return &Tracker{pricing: defaultPricing}
}

// Record prices one call and folds it into the running total. Safe to call
// from multiple goroutines (parallel branches record concurrently).
func (t *Tracker) Record(nodeID, model string, inputTokens, outputTokens int) Call {
	p := t.pricing[model] // zero value if unknown: recorded, priced at $0
	costUSD := (float64(inputTokens)/1_000_000)*p.InputPer1M + (float64(outputTokens)/1_000_000)*p.OutputPer1M

	call := Call{NodeID: nodeID, Model: model, InputTokens: inputTokens, OutputTokens: outputTokens, CostUSD: costUSD}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.total += costUSD
	t.mu.Unlock()

	return call
}

// Total returns the accumulated cost across every recorded call so far.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Calls returns a copy of every call recorded so far, in record order.
func (t *Tracker) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}
