package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/toolkit"
)

func TestRun_NoToolsReturnsContentDirectly(t *testing.T) {
	ag := &model.Agent{ID: "writer", Instructions: "You write things.", LLM: model.LLMConfig{Provider: "openai", Model: "gpt-4o"}}
	provider := &llm.MockProvider{Responses: []llm.CompleteOut{{Content: "hello there", FinishReason: llm.FinishStop}}}

	delta, err := Run(context.Background(), ag, nil, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta[state.KeyOutput] != "hello there" {
		t.Errorf("expected output %q, got %v", "hello there", delta[state.KeyOutput])
	}
	if delta[state.KeyCurrentNode] != "writer" {
		t.Errorf("expected current_node %q, got %v", "writer", delta[state.KeyCurrentNode])
	}
}

func TestRun_ToolCallLoopRecoversFromToolError(t *testing.T) {
	ag := &model.Agent{ID: "calc", Instructions: "Use the calculator.", LLM: model.LLMConfig{Provider: "openai"}, ToolIDs: []string{"calc-tool"}}
	toolDefs := []model.Tool{{ID: "calc-tool", Name: "calculator", ImplementationRef: "builtin:calculator"}}

	provider := &llm.MockProvider{Responses: []llm.CompleteOut{
		{ToolCalls: []llm.ToolCall{{ID: "call1", Name: "calculator", Arguments: `{"expression": "1 +"}`}}, FinishReason: llm.FinishToolCalls},
		{Content: "done", FinishReason: llm.FinishStop},
	}}

	delta, err := Run(context.Background(), ag, toolDefs, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta[state.KeyOutput] != "done" {
		t.Errorf("expected output %q, got %v", "done", delta[state.KeyOutput])
	}
	if len(provider.Requests) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(provider.Requests))
	}
	secondCallMessages := provider.Requests[1].Messages
	var toolTurn string
	for _, m := range secondCallMessages {
		if m.Role == llm.RoleTool {
			toolTurn = m.Content
		}
	}
	if !strings.Contains(toolTurn, "Error executing tool calculator") {
		t.Errorf("expected a recovered tool-error turn, got %q", toolTurn)
	}
}

func TestRun_MaxToolIterationsReturnsSentinelAndNoError(t *testing.T) {
	ag := &model.Agent{ID: "looper", Instructions: "Keep calling a tool.", LLM: model.LLMConfig{Provider: "openai"}, ToolIDs: []string{"t"}}
	toolDefs := []model.Tool{{ID: "t", Name: "calculator", ImplementationRef: "builtin:calculator"}}

	var responses []llm.CompleteOut
	for i := 0; i < maxToolIterations; i++ {
		responses = append(responses, llm.CompleteOut{
			ToolCalls:    []llm.ToolCall{{ID: "x", Name: "calculator", Arguments: `{"expression": "1 + 1"}`}},
			FinishReason: llm.FinishToolCalls,
		})
	}
	provider := &llm.MockProvider{Responses: responses}

	delta, err := Run(context.Background(), ag, toolDefs, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta[state.KeyOutput] != maxIterationsSentinel {
		t.Errorf("expected sentinel output, got %v", delta[state.KeyOutput])
	}
}

func TestRun_ProviderErrorBubblesAsNodeFailure(t *testing.T) {
	ag := &model.Agent{ID: "writer", Instructions: "x", LLM: model.LLMConfig{Provider: "openai"}}
	provider := &llm.MockProvider{Errs: []error{errors.New("boom")}}

	_, err := Run(context.Background(), ag, nil, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err == nil {
		t.Fatal("expected an error when the provider fails")
	}
}

func TestRun_OutputSchemaParsesJSONContent(t *testing.T) {
	ag := &model.Agent{
		ID:           "structured",
		Instructions: "Return JSON.",
		LLM:          model.LLMConfig{Provider: "openai"},
		OutputSchema: map[string]any{"type": "object"},
	}
	provider := &llm.MockProvider{Responses: []llm.CompleteOut{{Content: `{"answer": 42}`, FinishReason: llm.FinishStop}}}

	delta, err := Run(context.Background(), ag, nil, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := delta[state.KeyOutput].(map[string]any)
	if !ok {
		t.Fatalf("expected a parsed map output, got %T", delta[state.KeyOutput])
	}
	if out["answer"] != 42.0 {
		t.Errorf("expected answer 42, got %v", out["answer"])
	}
}

func TestRun_OutputSchemaKeepsRawStringOnParseFailure(t *testing.T) {
	ag := &model.Agent{ID: "structured", Instructions: "x", LLM: model.LLMConfig{Provider: "openai"}, OutputSchema: map[string]any{"type": "object"}}
	provider := &llm.MockProvider{Responses: []llm.CompleteOut{{Content: "not json", FinishReason: llm.FinishStop}}}

	delta, err := Run(context.Background(), ag, nil, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta[state.KeyOutput] != "not json" {
		t.Errorf("expected raw string preserved, got %v", delta[state.KeyOutput])
	}
}

func TestRun_ReportsUsageMetadata(t *testing.T) {
	ag := &model.Agent{ID: "writer", Instructions: "x", LLM: model.LLMConfig{Provider: "openai", Model: "gpt-4o"}}
	provider := &llm.MockProvider{Responses: []llm.CompleteOut{{Content: "hi", FinishReason: llm.FinishStop, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}}}

	delta, err := Run(context.Background(), ag, nil, provider, toolkit.NewRegistry(), state.New(), state.Delta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, ok := delta[state.KeyMetadata].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata delta, got %T", delta[state.KeyMetadata])
	}
	usage, ok := meta["usage"].(map[string]any)
	if !ok {
		t.Fatalf("expected usage entry, got %v", meta)
	}
	if usage["prompt_tokens"] != 10 || usage["completion_tokens"] != 5 {
		t.Errorf("expected usage tokens to carry through, got %v", usage)
	}
}

func TestTruncateString_MarksLongValues(t *testing.T) {
	long := strings.Repeat("a", maxToolOutputChars+10)
	got := truncateString(long)
	if len(got) > maxToolOutputChars {
		t.Errorf("expected truncated length <= %d, got %d", maxToolOutputChars, len(got))
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Error("expected truncated string to end with the truncation marker")
	}
}
