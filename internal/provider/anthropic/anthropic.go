// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// DefaultModel is used when neither the request nor the configuration names one.
const DefaultModel = "claude-sonnet-4-5"

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	name   string
	model  string
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	name := cfg.ID
	if name == "" {
		name = provider.TypeAnthropic
	}
	if cfg.APIKey == "" {
		return nil, wperr.New(wperr.CodeProviderRequestInvalid, name+": missing api_key", wperr.FieldProvider(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(hopguard.Outbound),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		name:   name,
		model:  model,
	}, nil
}

// Build adapts New to provider.Builder.
func Build(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Close() error { return nil }

// Complete sends one non-streaming Messages request.
func (p *Provider) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapErr(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c := &provider.Completion{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      text.String(),
		FinishReason: string(msg.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	if err := provider.CheckCompletion(p.name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// buildParams converts a provider.ChatRequest into Anthropic SDK MessageNewParams.
func (p *Provider) buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	system, rest := provider.SplitSystem(req.Messages)
	msgs, err := convertMessages(p.name, rest)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	return params, nil
}

func convertMessages(name string, msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	result := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			return nil, wperr.New(wperr.CodeProviderRequestInvalid, name+": unsupported message role",
				wperr.FieldProvider(name), wperr.Field("role", string(msg.Role)))
		}
	}
	return result, nil
}

func (p *Provider) wrapErr(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.StatusError(p.name, apiErr.StatusCode, err)
	}
	return provider.TransportError(p.name, err)
}
