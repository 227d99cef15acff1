// Package anthropic adapts llm.Provider to Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
)

// defaultMaxTokens is used when a request omits MaxTokens, since Anthropic
// requires a positive value.
const defaultMaxTokens = 4096

// Provider implements llm.Provider against Claude models.
type Provider struct {
	apiKey string
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey}
}

func (p *Provider) client() (*anthropicsdk.Client, error) {
	if p.apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	c := anthropicsdk.NewClient(option.WithAPIKey(p.apiKey))
	return &c, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompleteRequest) (llm.CompleteOut, error) {
	if err := req.Validate(); err != nil {
		return llm.CompleteOut{}, err
	}
	if ctx.Err() != nil {
		return llm.CompleteOut{}, ctx.Err()
	}

	client, err := p.client()
	if err != nil {
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "anthropic", Cause: err}
	}

	systemPrompt, turns := extractSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(req.Model),
		Messages:    convertMessages(turns),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropicsdk.Float(req.Temperature()),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "anthropic", Retryable: isRetryable(err), Cause: err}
	}
	return convertResponse(resp), nil
}

// StreamComplete implements llm.Provider.
func (p *Provider) StreamComplete(ctx context.Context, req llm.CompleteRequest) (<-chan llm.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	client, err := p.client()
	if err != nil {
		return nil, &agferrors.ProviderError{Provider: "anthropic", Cause: err}
	}

	systemPrompt, turns := extractSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(req.Model),
		Messages:    convertMessages(turns),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropicsdk.Float(req.Temperature()),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	out := make(chan llm.StreamChunk)
	stream := client.Messages.NewStreaming(ctx, params)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.Delta.AsAny().(anthropicsdk.TextDelta); ok {
				select {
				case out <- llm.StreamChunk{Content: delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- llm.StreamChunk{Err: &agferrors.ProviderError{Provider: "anthropic", Cause: err}}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func extractSystem(messages []llm.Message) (string, []llm.Message) {
	var system string
	var rest []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func convertMessages(messages []llm.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		case llm.RoleTool:
			// Anthropic has no dedicated tool role; synthesize a user turn
			// carrying the tool result, matching the original's approach
			// of rendering tool results as a synthesised user turn.
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	return result
}

func convertTools(tools []llm.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				properties = props
			}
			required = stringSlice(t.Schema["required"])
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func convertResponse(resp *anthropicsdk.Message) llm.CompleteOut {
	out := llm.CompleteOut{
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += b.Text
		case anthropicsdk.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: string(args)})
		}
	}
	switch resp.StopReason {
	case anthropicsdk.StopReasonToolUse:
		out.FinishReason = llm.FinishToolCalls
	case anthropicsdk.StopReasonMaxTokens:
		out.FinishReason = llm.FinishLength
	default:
		out.FinishReason = llm.FinishStop
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
