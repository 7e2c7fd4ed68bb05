package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/parley-cli/parley/internal/config"
)

// openAIClient talks to any OpenAI-compatible chat completion endpoint.
type openAIClient struct {
	api *openai.Client
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{api: openai.NewClientWithConfig(clientCfg)}
}

func (c *openAIClient) SupportsTools() bool { return true }

func (c *openAIClient) StreamChat(ctx context.Context, req Request) (Stream, error) {
	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	s, err := c.api.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return &openAIStream{s: s}, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// openAIStream adapts the SDK stream, assembling any tool call fragments that
// arrive interleaved with content deltas.
type openAIStream struct {
	s     *openai.ChatCompletionStream
	text  strings.Builder
	calls []openai.ToolCall
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.s.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("openai recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		mergeToolCallDeltas(&s.calls, delta.ToolCalls)
		if delta.Content != "" {
			s.text.WriteString(delta.Content)
			return delta.Content, nil
		}
	}
}

func (s *openAIStream) Message() Message {
	m := Message{Role: RoleAssistant, Content: s.text.String()}
	for _, tc := range s.calls {
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return m
}

func (s *openAIStream) Close() error { return s.s.Close() }

// mergeToolCallDeltas folds streamed tool call fragments into acc. Fragments
// carry an index; the first fragment of a call has the ID and function name,
// later ones append argument JSON.
func mergeToolCallDeltas(acc *[]openai.ToolCall, deltas []openai.ToolCall) {
	for _, d := range deltas {
		idx := len(*acc) - 1
		if d.Index != nil {
			idx = *d.Index
		}
		if idx < 0 {
			continue
		}
		for len(*acc) <= idx {
			*acc = append(*acc, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		tc := &(*acc)[idx]
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Function.Name != "" {
			tc.Function.Name = d.Function.Name
		}
		tc.Function.Arguments += d.Function.Arguments
	}
}
