package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/parley-cli/parley/internal/config"
)

const defaultAnthropicMaxTokens = 1024

// anthropicClient streams plain chat turns from the Anthropic Messages API.
// Tool calls are not supported on this provider.
type anthropicClient struct {
	api *anthropic.Client
}

func newAnthropicClient(cfg config.LLMConfig) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := anthropic.NewClient(opts...)
	return &anthropicClient{api: &c}
}

func (c *anthropicClient) SupportsTools() bool { return false }

func (c *anthropicClient) StreamChat(ctx context.Context, req Request) (Stream, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("anthropic provider does not support tool calls")
	}
	params, err := anthropicParams(req)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{s: c.api.Messages.NewStreaming(ctx, params)}, nil
}

// anthropicParams maps a neutral request onto MessageNewParams. System
// messages move to the dedicated system field; the API requires MaxTokens,
// so a default is applied when the config leaves it unset.
func anthropicParams(req Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultAnthropicMaxTokens
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic provider cannot send role %q", m.Role)
		}
	}
	return params, nil
}

type anthropicStream struct {
	s   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	acc anthropic.Message
}

func (s *anthropicStream) Recv() (string, error) {
	for s.s.Next() {
		event := s.s.Current()
		if err := s.acc.Accumulate(event); err != nil {
			return "", fmt.Errorf("anthropic accumulate: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				return d.Text, nil
			}
		}
	}
	if err := s.s.Err(); err != nil {
		return "", fmt.Errorf("anthropic recv: %w", err)
	}
	return "", io.EOF
}

func (s *anthropicStream) Message() Message {
	var text strings.Builder
	for _, block := range s.acc.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	return Message{Role: RoleAssistant, Content: text.String()}
}

func (s *anthropicStream) Close() error { return s.s.Close() }
