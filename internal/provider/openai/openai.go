// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package openai

import (
	"context"
	"errors"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// DefaultModel is used when neither the request nor the configuration names one.
const DefaultModel = "gpt-4.1-mini"

// Provider implements provider.Provider using the OpenAI Chat Completions
// API. It also serves OpenAI-compatible gateways through NewCompatible.
type Provider struct {
	client openaisdk.Client
	name   string
	model  string
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	return NewCompatible(provider.TypeOpenAI, cfg, "", DefaultModel)
}

// Build adapts New to provider.Builder.
func Build(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

// NewCompatible creates a provider for an OpenAI-compatible endpoint.
// defaultBase and defaultModel apply when cfg leaves them empty; extra
// options are appended after the common ones.
func NewCompatible(typ string, cfg provider.Config, defaultBase, defaultModel string, extra ...option.RequestOption) (*Provider, error) {
	name := cfg.ID
	if name == "" {
		name = typ
	}
	if cfg.APIKey == "" {
		return nil, wperr.New(wperr.CodeProviderRequestInvalid, name+": missing api_key", wperr.FieldProvider(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(hopguard.Outbound),
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: openaisdk.NewClient(opts...),
		name:   name,
		model:  model,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Close() error { return nil }

// Complete sends one non-streaming chat completion request.
func (p *Provider) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, wperr.New(wperr.CodeProviderResponseInvalid, p.name+": response has no choices",
			wperr.FieldProvider(p.name))
	}

	choice := resp.Choices[0]
	c := &provider.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if err := provider.CheckCompletion(p.name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// buildParams converts a provider.ChatRequest into OpenAI SDK ChatCompletionNewParams.
func (p *Provider) buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleSystem:
			msgs = append(msgs, openaisdk.SystemMessage(msg.Content))
		case provider.MessageRoleUser:
			msgs = append(msgs, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(msg.Content))
		default:
			return openaisdk.ChatCompletionNewParams{}, wperr.New(wperr.CodeProviderRequestInvalid,
				p.name+": unsupported message role", wperr.FieldProvider(p.name), wperr.Field("role", string(msg.Role)))
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func (p *Provider) wrapErr(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.StatusError(p.name, apiErr.StatusCode, err)
	}
	return provider.TransportError(p.name, err)
}
