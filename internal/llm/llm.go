// Package llm abstracts the hosted model providers behind a small streaming
// chat interface so the agent and its tests never touch SDK types directly.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parley-cli/parley/internal/config"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a single chat completion request.
type Request struct {
	Model     string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Stream yields assistant text deltas in arrival order. Recv returns io.EOF
// once the response is complete; Message is only valid after that.
type Stream interface {
	Recv() (string, error)
	Message() Message
	Close() error
}

// Client is the minimal provider surface used by the agent; it is easy to
// mock in tests.
type Client interface {
	StreamChat(ctx context.Context, req Request) (Stream, error)
	SupportsTools() bool
}

// New builds the provider client selected by the configuration.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
