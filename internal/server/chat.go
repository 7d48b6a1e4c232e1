// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/router"
)

// ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string `json:"role" enum:"system,user,assistant" doc:"Message author"`
	Content string `json:"content" doc:"Message text"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages  []ChatMessage `json:"messages" minItems:"1" doc:"Conversation so far, oldest first"`
	Model     string        `json:"model,omitempty" doc:"Model to request from the selected provider"`
	MaxTokens int           `json:"max_tokens,omitempty" minimum:"0" doc:"Upper bound on generated tokens"`
	Stream    bool          `json:"stream,omitempty" doc:"Accepted for compatibility; the complete response is always returned"`
	Intent    string        `json:"intent,omitempty" doc:"Provider chain to route through; defaults to the gateway's default intent"`
}

// ChatChoice is one generated answer.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatResponse is the body of a /chat answer, degraded or not.
type ChatResponse struct {
	ID             string         `json:"id"`
	Model          string         `json:"model,omitempty"`
	Choices        []ChatChoice   `json:"choices"`
	Usage          provider.Usage `json:"usage"`
	Provider       string         `json:"provider" doc:"Provider that answered, or local_fallback"`
	LatencyMS      int64          `json:"latency_ms"`
	Degraded       bool           `json:"degraded"`
	Fallback       bool           `json:"fallback" doc:"True when an earlier provider in the chain failed"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
	TraceID        string         `json:"trace_id"`
}

const chatDescription = "Routes the request through the intent's provider chain. Provider failures never surface " +
	"as errors: when nothing answers, a degraded local response is returned with degraded=true."

type chatInput struct {
	Body ChatRequest
}

type chatOutput struct {
	TraceID string `header:"X-Trace-ID"`
	Body    ChatResponse
}

func (s *Server) registerChatRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Route a chat completion",
		Description: chatDescription,
		Tags:        []string{"chat"},
		Errors:      []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusServiceUnavailable},
	}, s.handleChat)
}

func (s *Server) handleChat(ctx context.Context, in *chatInput) (*chatOutput, error) {
	if s.chat == nil {
		return nil, huma.Error503ServiceUnavailable("router unavailable")
	}

	c := callerFromContext(ctx)
	hops, err := s.admit(ctx, c)
	if err != nil {
		return nil, err
	}

	msgs := make([]provider.Message, 0, len(in.Body.Messages))
	for _, m := range in.Body.Messages {
		msgs = append(msgs, provider.Message{Role: provider.MessageRole(m.Role), Content: m.Content})
	}

	resp, dt := s.chat.Route(ctx, router.Request{
		CallerID:      c.id,
		CorrelationID: c.correlationID,
		Intent:        in.Body.Intent,
		Hops:          hops,
		Chat: provider.ChatRequest{
			Model:     in.Body.Model,
			Messages:  msgs,
			MaxTokens: in.Body.MaxTokens,
		},
		ReceivedAt: s.nowFunc(),
	})

	out := &chatOutput{TraceID: dt.ID}
	out.Body = ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: string(provider.MessageRoleAssistant), Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage:          resp.Usage,
		Provider:       resp.Provider,
		LatencyMS:      resp.Latency.Milliseconds(),
		Degraded:       resp.Degraded,
		Fallback:       resp.Fallback,
		FallbackReason: resp.FallbackReason,
		TraceID:        dt.ID,
	}
	return out, nil
}
