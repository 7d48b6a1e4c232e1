// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package google

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// DefaultModel is used when neither the request nor the configuration names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements provider.Provider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	name   string
	model  string
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	name := cfg.ID
	if name == "" {
		name = provider.TypeGoogle
	}
	if cfg.APIKey == "" {
		return nil, wperr.New(wperr.CodeProviderRequestInvalid, name+": missing api_key", wperr.FieldProvider(name))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Transport: &hopguard.Transport{}},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, wperr.Wrap(err, wperr.CodeProviderConfigInvalid, name+": creating client", wperr.FieldProvider(name))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, name: name, model: model}, nil
}

// Build adapts New to provider.Builder.
func Build(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Close() error { return nil }

// Complete sends one GenerateContent call and returns the whole response.
func (p *Provider) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	contents, config, err := buildRequest(req)
	if err != nil {
		return nil, wperr.With(err, wperr.FieldProvider(p.name))
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, p.wrapErr(err)
	}

	c := &provider.Completion{
		ID:      resp.ResponseID,
		Model:   resp.ModelVersion,
		Content: resp.Text(),
	}
	if c.Model == "" {
		c.Model = model
	}
	if len(resp.Candidates) > 0 {
		c.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if resp.UsageMetadata != nil {
		c.Usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if err := provider.CheckCompletion(p.name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// buildRequest converts a provider.ChatRequest into genai contents and config.
// System messages become the system instruction.
func buildRequest(req provider.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system, rest := provider.SplitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		switch msg.Role {
		case provider.MessageRoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case provider.MessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			return nil, nil, wperr.New(wperr.CodeProviderRequestInvalid, "unsupported message role",
				wperr.Field("role", string(msg.Role)))
		}
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, config, nil
}

func (p *Provider) wrapErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.StatusError(p.name, apiErr.Code, err)
	}
	return provider.TransportError(p.name, err)
}
