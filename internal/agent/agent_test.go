package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/parley-cli/parley/internal/config"
	"github.com/parley-cli/parley/internal/llm"
)

// scriptedStream plays back canned deltas, then io.EOF (or a scripted error).
type scriptedStream struct {
	deltas []string
	msg    llm.Message
	err    error
	i      int
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.i < len(s.deltas) {
		d := s.deltas[s.i]
		s.i++
		return d, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Message() llm.Message { return s.msg }

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type mockLLM struct {
	queue    []*scriptedStream
	err      error
	requests []llm.Request
	tools    bool
}

func (m *mockLLM) StreamChat(_ context.Context, req llm.Request) (llm.Stream, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) == 0 {
		panic("mockLLM: no more scripted streams")
	}
	s := m.queue[0]
	m.queue = m.queue[1:]
	return s, nil
}

func (m *mockLLM) SupportsTools() bool { return m.tools }

// mockToolCaller mirrors ToolCaller with overridable behavior per test.
type mockToolCaller struct {
	InitializeFunc func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListToolsFunc  func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallToolFunc   func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	CloseFunc      func() error
}

func (m *mockToolCaller) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockToolCaller) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx, req)
	}
	return &mcp.ListToolsResult{}, nil
}

func (m *mockToolCaller) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "mock default success for " + req.Params.Name}},
	}, nil
}

func (m *mockToolCaller) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{LLM: config.LLMConfig{Model: "gpt-4o", MaxTurns: 5}}
}

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func TestStreamTurn_DirectContent(t *testing.T) {
	stream := &scriptedStream{
		deltas: []string{"Hel", "lo", "!"},
		msg:    llm.Message{Role: llm.RoleAssistant, Content: "Hello!"},
	}
	client := &mockLLM{queue: []*scriptedStream{stream}, tools: true}
	a := New(client, testConfig())

	var got []string
	out, err := a.StreamTurn(context.Background(), userTurn("hi"), func(d string) { got = append(got, d) })
	require.NoError(t, err)
	require.Equal(t, "Hello!", out)
	require.Equal(t, []string{"Hel", "lo", "!"}, got, "deltas must reach the sink in arrival order")
	require.True(t, stream.closed)

	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Equal(t, "hi", msgs[len(msgs)-1].Content)
}

func TestStreamTurn_SystemPromptFromConfig(t *testing.T) {
	client := &mockLLM{queue: []*scriptedStream{{msg: llm.Message{Role: llm.RoleAssistant, Content: "ok"}}}, tools: true}
	cfg := testConfig()
	cfg.LLM.SystemPrompt = "You only speak French."
	a := New(client, cfg)

	_, err := a.StreamTurn(context.Background(), userTurn("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, "You only speak French.", client.requests[0].Messages[0].Content)
}

func TestStreamTurn_ToolRoundTrip(t *testing.T) {
	toolName := "get_weather"
	toolResult := "The weather in London is sunny."

	client := &mockLLM{
		tools: true,
		queue: []*scriptedStream{
			{msg: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:        "call_123",
					Name:      toolName,
					Arguments: `{"location":"London"}`,
				}},
			}},
			{
				deltas: []string{"It's sunny in London."},
				msg:    llm.Message{Role: llm.RoleAssistant, Content: "It's sunny in London."},
			},
		},
	}

	caller := &mockToolCaller{
		CallToolFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			require.Equal(t, toolName, req.Params.Name)
			require.Equal(t, map[string]any{"location": "London"}, req.Params.Arguments)
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: toolResult}},
			}, nil
		},
	}

	a := New(client, testConfig())
	a.routes[toolName] = caller
	a.tools = []llm.ToolDefinition{{Name: toolName, Parameters: json.RawMessage(`{"type":"object"}`)}}

	out, err := a.StreamTurn(context.Background(), userTurn("weather in London?"), nil)
	require.NoError(t, err)
	require.Equal(t, "It's sunny in London.", out)

	// The second round must carry the assistant tool request and its result.
	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	assistant := second[len(second)-2]
	result := second[len(second)-1]
	require.Len(t, assistant.ToolCalls, 1)
	require.Equal(t, llm.RoleTool, result.Role)
	require.Equal(t, "call_123", result.ToolCallID)
	require.Equal(t, toolResult, result.Content)
}

func TestStreamTurn_LLMError(t *testing.T) {
	client := &mockLLM{err: context.DeadlineExceeded, tools: true}
	a := New(client, testConfig())
	_, err := a.StreamTurn(context.Background(), userTurn("hi"), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamTurn_StreamRecvError(t *testing.T) {
	recvErr := errors.New("connection reset")
	client := &mockLLM{queue: []*scriptedStream{{deltas: []string{"partial"}, err: recvErr}}, tools: true}
	a := New(client, testConfig())

	var got strings.Builder
	_, err := a.StreamTurn(context.Background(), userTurn("hi"), func(d string) { got.WriteString(d) })
	require.ErrorIs(t, err, recvErr)
	require.Equal(t, "partial", got.String(), "deltas before the failure still reach the sink")
}

func TestStreamTurn_MaxTurnsExceeded(t *testing.T) {
	loop := func() *scriptedStream {
		return &scriptedStream{msg: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "c", Name: "noop", Arguments: "{}"}},
		}}
	}
	client := &mockLLM{queue: []*scriptedStream{loop(), loop(), loop()}, tools: true}
	cfg := testConfig()
	cfg.LLM.MaxTurns = 2
	a := New(client, cfg)
	a.routes["noop"] = &mockToolCaller{}

	_, err := a.StreamTurn(context.Background(), userTurn("go"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "maximum")
	require.Len(t, client.requests, 2)
}

func TestStreamTurn_UnknownToolReportedToModel(t *testing.T) {
	client := &mockLLM{
		tools: true,
		queue: []*scriptedStream{
			{msg: llm.Message{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{ID: "c1", Name: "missing", Arguments: "{}"}},
			}},
			{msg: llm.Message{Role: llm.RoleAssistant, Content: "sorry"}},
		},
	}
	a := New(client, testConfig())

	out, err := a.StreamTurn(context.Background(), userTurn("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, "sorry", out)
	second := client.requests[1].Messages
	require.Contains(t, second[len(second)-1].Content, "not available")
}

func TestNew_ToollessProviderIgnoresMCPServers(t *testing.T) {
	client := &mockLLM{tools: false}
	cfg := testConfig()
	cfg.MCPServers = []config.MCPServerConfig{{Name: "x", Type: config.ClientTypeSSE, URL: "http://localhost:1"}}

	a := New(client, cfg)
	require.Empty(t, a.tools)
	require.Empty(t, a.mcpClients)
}

func TestToolSchema_Fallbacks(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	require.Equal(t, raw, toolSchema(mcp.Tool{RawInputSchema: raw}))

	require.JSONEq(t, string(emptyObjectSchema), string(toolSchema(mcp.Tool{})))
}

func TestRegisterTools_SkipsDuplicates(t *testing.T) {
	a := New(&mockLLM{tools: true}, testConfig())
	list := func(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
		return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "dup", RawInputSchema: json.RawMessage(`{"type":"object"}`)}}}, nil
	}
	first := &mockToolCaller{ListToolsFunc: list}
	second := &mockToolCaller{ListToolsFunc: list}

	a.registerTools(context.Background(), first, "first")
	a.registerTools(context.Background(), second, "second")

	require.Len(t, a.tools, 1)
	require.Same(t, first, a.routes["dup"].(*mockToolCaller))
}
