// Package agent implements the bounded tool-calling loop an agent-typed
// node runs: build a message list from the live state, call the bound
// provider, execute any requested tools, and repeat until the provider
// stops asking for tools or the iteration bound is hit.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/toolkit"
)

const (
	// maxToolIterations bounds the provider-plus-tools dialogue inside a
	// single agent node invocation.
	maxToolIterations = 10

	// maxToolOutputChars truncates a single tool result (and each
	// intermediate value folded into the context) before it is placed in
	// a message, so one runaway tool can't blow the context window.
	maxToolOutputChars = 180_000

	truncationMarker = "\n...[TRUNCATED]"

	// maxIterationsSentinel is the output an agent node returns when it
	// hits maxToolIterations without the provider settling on a final
	// answer. The step is marked completed, not failed: the state folded
	// so far has already been checkpointed, so there is nothing to roll
	// back by failing the node.
	maxIterationsSentinel = "Max tool iterations reached"
)

// Run executes one agent node to completion and returns the state delta
// the scheduler folds. It matches compiler.AgentRunner's signature so an
// engine can bind it directly as the callback compiler needs without
// compiler importing this package.
func Run(ctx context.Context, ag *model.Agent, toolDefs []model.Tool, provider llm.Provider, tools *toolkit.Registry, s *state.State, payload state.Delta) (state.Delta, error) {
	messages := buildMessages(ag, s, payload)

	req := llm.CompleteRequest{
		Messages:  messages,
		Model:     ag.LLM.Model,
		MaxTokens: ag.LLM.MaxTokens,
	}
	if ag.OutputSchema != nil {
		req.OutputSchema = ag.OutputSchema
	} else if len(toolDefs) > 0 {
		req.Tools = toolSpecs(toolDefs)
	}

	var usage llm.Usage
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Messages = messages
		out, err := provider.Complete(ctx, req)
		if err != nil {
			// Adapters already wrap backend failures in agferrors.ProviderError;
			// a bare error from a test double or MockProvider is wrapped here
			// so callers can always errors.As against the same type.
			var provErr *agferrors.ProviderError
			if !errors.As(err, &provErr) {
				err = &agferrors.ProviderError{Provider: ag.LLM.Provider, Cause: err}
			}
			return nil, err
		}
		usage.PromptTokens += out.Usage.PromptTokens
		usage.CompletionTokens += out.Usage.CompletionTokens
		usage.TotalTokens += out.Usage.TotalTokens

		if len(out.ToolCalls) == 0 {
			return finalize(ag, out.Content, usage)
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: out.Content, ToolCalls: out.ToolCalls})
		for _, call := range out.ToolCalls {
			result := invokeTool(ctx, tools, toolDefs, call)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID})
		}
	}

	return state.Delta{
		state.KeyCurrentNode:   ag.ID,
		state.KeyIntermediate: map[string]any{ag.ID: maxIterationsSentinel},
		state.KeyOutput:        maxIterationsSentinel,
		state.KeyMetadata:      usageMetadata(ag, usage),
	}, nil
}

// finalize builds the node's delta from the provider's final content,
// decoding it as JSON only when the agent declared an output_schema and
// the content actually parses; otherwise the raw string is kept.
func finalize(ag *model.Agent, content string, usage llm.Usage) (state.Delta, error) {
	var output any = content
	if ag.OutputSchema != nil {
		var parsed any
		if err := json.Unmarshal([]byte(content), &parsed); err == nil {
			output = parsed
		}
		// A parse failure is not fatal to the node: the raw string survives
		// as output. The failure is not reported; nothing is recorded on
		// the step.
	}
	return state.Delta{
		state.KeyCurrentNode:   ag.ID,
		state.KeyIntermediate: map[string]any{ag.ID: output},
		state.KeyOutput:        output,
		state.KeyMetadata:      usageMetadata(ag, usage),
	}, nil
}

// usageMetadata reports the node's LLM token usage under state.metadata so
// a scheduler can price it (cost.Tracker) and record it on the step without
// agent needing to know anything about cost tracking or persistence.
func usageMetadata(ag *model.Agent, usage llm.Usage) map[string]any {
	return map[string]any{
		"usage": map[string]any{
			"node_id":           ag.ID,
			"model":             ag.LLM.Model,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
}

// buildMessages assembles the system + user turns an agent's first
// provider call sends: system is the agent's instructions verbatim, user
// is a JSON rendering of state.input, truncated state.intermediate
// values, and (inside a parallel branch) the item/index this invocation
// was dispatched with.
func buildMessages(ag *model.Agent, s *state.State, payload state.Delta) []llm.Message {
	userContext := map[string]any{
		"input": s.GetMap(state.KeyInput),
	}
	if intermediate := s.GetMap(state.KeyIntermediate); len(intermediate) > 0 {
		truncated := make(map[string]any, len(intermediate))
		for k, v := range intermediate {
			truncated[k] = truncateValue(v)
		}
		userContext["intermediate"] = truncated
	}
	if item, ok := payload[state.KeyParallelItem]; ok {
		userContext["parallel_item"] = item
	}
	if idx, ok := payload[state.KeyParallelIndex]; ok {
		userContext["parallel_index"] = idx
	}

	body, _ := json.Marshal(userContext)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: ag.Instructions},
		{Role: llm.RoleUser, Content: string(body)},
	}
}

func truncateValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return truncateString(s)
}

func truncateString(s string) string {
	if len(s) <= maxToolOutputChars {
		return s
	}
	return s[:maxToolOutputChars-len(truncationMarker)] + truncationMarker
}

// toolSpecs converts the agent's resolved tool definitions into the
// provider-facing tool specs bound on the request.
func toolSpecs(defs []model.Tool) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = llm.ToolSpec{Name: d.Name, Schema: d.FunctionSchema}
	}
	return specs
}

// invokeTool resolves and calls the named tool, recovering any failure
// (missing tool, bad args, execution error) into the turn content rather
// than propagating it as a node failure — only a provider error aborts
// the node.
func invokeTool(ctx context.Context, tools *toolkit.Registry, defs []model.Tool, call llm.ToolCall) string {
	def, ok := findToolDef(defs, call.Name)
	if !ok {
		return fmt.Sprintf("Error executing tool %s: tool not bound to this agent", call.Name)
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
		}
	}

	tool, err := tools.Resolve(def.ImplementationRef, def.Config)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}

	out, err := tool.Call(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}
	return truncateString(string(body))
}

func findToolDef(defs []model.Tool, name string) (model.Tool, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return model.Tool{}, false
}
