package main

import (
	"context"
	"errors"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/llm/anthropic"
	"github.com/agentflow-run/agentflow/llm/google"
	"github.com/agentflow-run/agentflow/llm/openai"
)

// errMistralNotImplemented is returned by every call a Mistral-backed
// agent makes: no Mistral SDK is available to wire, so the provider
// exists only to turn a reference to it into a clear runtime error
// instead of a silent "no provider configured" compilation failure.
var errMistralNotImplemented = errors.New("mistral provider is not implemented (no SDK available)")

// newProvider is an llm.Factory: it constructs the named backend's
// Provider from its API key, or the permanently-failing stand-in for
// "mistral".
func newProvider(name, apiKey string) (llm.Provider, error) {
	switch name {
	case "openai":
		return openai.New(apiKey), nil
	case "anthropic":
		return anthropic.New(apiKey), nil
	case "google":
		return google.New(apiKey), nil
	case "mistral":
		return unimplementedProvider{}, nil
	default:
		return nil, &llm.ErrUnknownProvider{Name: name}
	}
}

var _ llm.Factory = newProvider

// unimplementedProvider satisfies llm.Provider but fails every call with
// agferrors.ProviderError, so an agent that names "mistral" compiles
// (the provider is configured) and fails clearly at the point it's
// actually invoked.
type unimplementedProvider struct{}

func (unimplementedProvider) Complete(context.Context, llm.CompleteRequest) (llm.CompleteOut, error) {
	return llm.CompleteOut{}, &agferrors.ProviderError{Provider: "mistral", Cause: errMistralNotImplemented}
}

func (unimplementedProvider) StreamComplete(context.Context, llm.CompleteRequest) (<-chan llm.StreamChunk, error) {
	return nil, &agferrors.ProviderError{Provider: "mistral", Cause: errMistralNotImplemented}
}

// buildProviders constructs the provider map compiler.CompileDeps needs,
// one entry per credential actually configured in cfg.
func buildProviders(cfg Config) (map[string]llm.Provider, error) {
	providers := map[string]llm.Provider{}
	creds := map[string]string{
		"openai":    cfg.OpenAIKey,
		"anthropic": cfg.AnthropicKey,
		"google":    cfg.GoogleKey,
		"mistral":   cfg.MistralKey,
	}
	for name, key := range creds {
		if key == "" {
			continue
		}
		p, err := newProvider(name, key)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}
