// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package provider

import (
	"context"
	"strings"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Provider is the uniform contract every backend satisfies regardless of
// vendor. Complete must honour ctx cancellation and deadlines and must not
// retry internally; retries and fallback belong to the router.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*Completion, error)
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Message represents a conversation message.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	default:
		return false
	}
}

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// Validate checks the request before it is sent to any backend.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return wperr.New(wperr.CodeProviderRequestInvalid, "request has no messages")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return wperr.New(wperr.CodeProviderRequestInvalid, "unsupported message role",
				wperr.Field("index", i), wperr.Field("role", string(m.Role)))
		}
	}
	if r.MaxTokens < 0 {
		return wperr.New(wperr.CodeProviderRequestInvalid, "max_tokens must not be negative",
			wperr.Field("max_tokens", r.MaxTokens))
	}
	return nil
}

// SplitSystem joins system messages into one prompt and returns the
// remaining conversation, for vendors that take the system prompt separately.
func SplitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == MessageRoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// LastUserMessage returns the content of the final user turn.
func LastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == MessageRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// Completion is a whole, non-streamed model response.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CheckCompletion rejects responses that cannot be returned to a caller.
// A malformed response is a retryable failure, never a success.
func CheckCompletion(name string, c *Completion) error {
	if c == nil {
		return wperr.New(wperr.CodeProviderResponseInvalid, name+": empty response", wperr.FieldProvider(name))
	}
	if strings.TrimSpace(c.Content) == "" {
		return wperr.New(wperr.CodeProviderResponseInvalid, name+": response has no content",
			wperr.FieldProvider(name), wperr.Field("finish_reason", c.FinishReason))
	}
	return nil
}
