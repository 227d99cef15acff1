// Package google adapts llm.Provider to Google's Gemini API.
package google

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
)

// Provider implements llm.Provider against Gemini models.
type Provider struct {
	apiKey string
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompleteRequest) (llm.CompleteOut, error) {
	if err := req.Validate(); err != nil {
		return llm.CompleteOut{}, err
	}
	if ctx.Err() != nil {
		return llm.CompleteOut{}, ctx.Err()
	}
	if p.apiKey == "" {
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "google", Cause: errors.New("google: API key is required")}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "google", Cause: err}
	}
	defer client.Close()

	genModel := client.GenerativeModel(req.Model)
	genModel.Temperature = genai.Ptr(float32(req.Temperature()))
	if req.MaxTokens > 0 {
		genModel.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}
	systemPrompt, turns := extractSystem(req.Messages)
	if systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}
	if len(req.Tools) > 0 {
		genModel.Tools = convertTools(req.Tools)
	}

	resp, err := genModel.GenerateContent(ctx, convertMessages(turns)...)
	if err != nil {
		return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "google", Cause: err}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return llm.CompleteOut{}, &SafetyFilterError{Reason: resp.PromptFeedback.BlockReason.String()}
	}
	return convertResponse(resp), nil
}

// StreamComplete implements llm.Provider.
func (p *Provider) StreamComplete(ctx context.Context, req llm.CompleteRequest) (<-chan llm.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, &agferrors.ProviderError{Provider: "google", Cause: errors.New("google: API key is required")}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, &agferrors.ProviderError{Provider: "google", Cause: err}
	}

	genModel := client.GenerativeModel(req.Model)
	genModel.Temperature = genai.Ptr(float32(req.Temperature()))
	_, turns := extractSystem(req.Messages)

	iter := genModel.GenerateContentStream(ctx, convertMessages(turns)...)
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer client.Close()
		for {
			resp, err := iter.Next()
			if err != nil {
				if !isIterDone(err) {
					select {
					case out <- llm.StreamChunk{Err: &agferrors.ProviderError{Provider: "google", Cause: err}}:
					case <-ctx.Done():
					}
				}
				return
			}
			chunkOut := convertResponse(resp)
			if chunkOut.Content == "" {
				continue
			}
			select {
			case out <- llm.StreamChunk{Content: chunkOut.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func isIterDone(err error) bool {
	return err != nil && err.Error() == "no more items in iterator"
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

func convertMessages(messages []llm.Message) []genai.Part {
	var parts []genai.Part
	for _, m := range messages {
		if m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
	}
	return parts
}

func convertTools(tools []llm.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, rawVal := range props {
			val, ok := rawVal.(map[string]any)
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := val["type"].(string); ok {
				prop.Type = schemaType(typeStr)
			}
			if desc, ok := val["description"].(string); ok {
				prop.Description = desc
			}
			properties[key] = prop
		}
		result.Properties = properties
	}
	result.Required = stringSlice(schema["required"])
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

func schemaType(s string) genai.Type {
	switch s {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) llm.CompleteOut {
	out := llm.CompleteOut{FinishReason: llm.FinishStop}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += string(p)
		case genai.FunctionCall:
			args, _ := json.Marshal(p.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: p.Name, Arguments: string(args)})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	}
	return out
}

// SafetyFilterError represents a Google safety filter block.
type SafetyFilterError struct {
	Reason   string
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}
