// Package openai adapts llm.Provider to OpenAI's Chat Completions API.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
)

// Provider implements llm.Provider against GPT models, with a small
// retry loop for transient failures (rate limits, 5xx, network blips).
type Provider struct {
	apiKey     string
	maxRetries int
	retryDelay time.Duration
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey, maxRetries: 3, retryDelay: time.Second}
}

func (p *Provider) client() (openaisdk.Client, error) {
	if p.apiKey == "" {
		return openaisdk.Client{}, errors.New("openai: API key is required")
	}
	return openaisdk.NewClient(option.WithAPIKey(p.apiKey)), nil
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
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "openai", Cause: err}
	}

	params := buildParams(req)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err == nil {
			return convertResponse(resp), nil
		}
		lastErr = err
		if !isTransient(err) {
			return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "openai", Cause: err}
		}
		if attempt >= p.maxRetries {
			break
		}
		delay := p.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.CompleteOut{}, ctx.Err()
		}
	}
	return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "openai", Retryable: true, Cause: lastErr}
}

// StreamComplete implements llm.Provider.
func (p *Provider) StreamComplete(ctx context.Context, req llm.CompleteRequest) (<-chan llm.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	client, err := p.client()
	if err != nil {
		return nil, &agferrors.ProviderError{Provider: "openai", Cause: err}
	}

	params := buildParams(req)
	stream := client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case out <- llm.StreamChunk{Content: content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- llm.StreamChunk{Err: &agferrors.ProviderError{Provider: "openai", Cause: err}}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func buildParams(req llm.CompleteRequest) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(req.Model),
		Messages:    convertMessages(req.Messages),
		Temperature: openaisdk.Float(req.Temperature()),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.OutputSchema != nil {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "output",
					Schema: req.OutputSchema,
				},
			},
		}
	}
	return params
}

func convertMessages(messages []llm.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			result = append(result, openaisdk.SystemMessage(m.Content))
		case llm.RoleUser:
			result = append(result, openaisdk.UserMessage(m.Content))
		case llm.RoleAssistant:
			result = append(result, openaisdk.AssistantMessage(m.Content))
		case llm.RoleTool:
			result = append(result, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		default:
			result = append(result, openaisdk.UserMessage(m.Content))
		}
	}
	return result
}

func convertTools(tools []llm.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) llm.CompleteOut {
	out := llm.CompleteOut{
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content

	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			out.ToolCalls[i] = llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = llm.FinishToolCalls
	case "length":
		out.FinishReason = llm.FinishLength
	default:
		out.FinishReason = llm.FinishStop
	}
	return out
}

func isTransient(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
