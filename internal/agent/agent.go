// Package agent drives conversation turns against the model provider,
// executing MCP tool calls between model rounds.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/parley-cli/parley/internal/config"
	"github.com/parley-cli/parley/internal/llm"
	"github.com/parley-cli/parley/internal/logger"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

const defaultMaxTurns = 5

// ToolCaller is the subset of an MCP client the agent uses; it is easy to
// mock in tests.
type ToolCaller interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Agent holds the provider client plus the tool surface discovered from the
// configured MCP servers.
type Agent struct {
	client       llm.Client
	cfg          config.LLMConfig
	systemPrompt string
	maxTurns     int

	mcpClients []ToolCaller
	tools      []llm.ToolDefinition
	routes     map[string]ToolCaller
}

// New creates an agent and connects the configured MCP servers. Servers that
// fail to connect are skipped with a log entry; the chat still works without
// them.
func New(llmClient llm.Client, appCfg config.Config) *Agent {
	a := &Agent{
		client:       llmClient,
		cfg:          appCfg.LLM,
		systemPrompt: defaultSystemPrompt,
		maxTurns:     appCfg.LLM.MaxTurns,
		routes:       make(map[string]ToolCaller),
	}
	if appCfg.LLM.SystemPrompt != "" {
		a.systemPrompt = appCfg.LLM.SystemPrompt
	}
	if a.maxTurns <= 0 {
		a.maxTurns = defaultMaxTurns
	}

	if len(appCfg.MCPServers) > 0 && !llmClient.SupportsTools() {
		logger.L.Warn("provider does not support tool calls; MCP servers ignored", "provider", appCfg.LLM.Provider)
		return a
	}
	for _, serverCfg := range appCfg.MCPServers {
		a.connectMCPServer(serverCfg)
	}
	if len(appCfg.MCPServers) > 0 && len(a.mcpClients) == 0 {
		logger.L.Warn("no MCP clients were successfully initialized", "configured", len(appCfg.MCPServers))
	}
	return a
}

func (a *Agent) connectMCPServer(serverCfg config.MCPServerConfig) {
	ctx := context.Background()

	var mcpC *client.Client
	var err error
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		logger.L.Warn("unsupported MCP server type; skipping entry", "type", serverCfg.Type, "name", serverCfg.Name)
		return
	}
	if err != nil {
		logger.L.Error("failed to create MCP client", "name", serverCfg.Name, "error", err)
		return
	}

	// Stdio transports start on creation.
	if serverCfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			logger.L.Error("failed to start MCP client transport", "name", serverCfg.Name, "error", err)
			closeQuietly(mcpC, serverCfg.Name)
			return
		}
	}
	if _, err := mcpC.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		logger.L.Error("failed to initialize MCP client", "name", serverCfg.Name, "error", err)
		closeQuietly(mcpC, serverCfg.Name)
		return
	}
	logger.L.Info("MCP server initialized", "name", serverCfg.Name)
	a.mcpClients = append(a.mcpClients, mcpC)
	a.registerTools(ctx, mcpC, serverCfg.Name)
}

func (a *Agent) registerTools(ctx context.Context, tc ToolCaller, serverName string) {
	serverTools, err := tc.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		logger.L.Warn("failed to list tools", "name", serverName, "error", err)
		return
	}
	for _, tool := range serverTools.Tools {
		if _, exists := a.routes[tool.Name]; exists {
			logger.L.Warn("tool already registered from another server; skipping", "tool", tool.Name, "name", serverName)
			continue
		}
		a.routes[tool.Name] = tc
		a.tools = append(a.tools, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toolSchema(tool),
		})
		logger.L.Info("registered tool", "tool", tool.Name, "name", serverName)
	}
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func toolSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 && string(tool.RawInputSchema) != "null" {
		return tool.RawInputSchema
	}
	if tool.InputSchema.Type == "" {
		return emptyObjectSchema
	}
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil || string(raw) == "{}" || string(raw) == "null" {
		return emptyObjectSchema
	}
	return raw
}

// executeTool runs a single tool call via its MCP route and renders the
// result as text for the model. Failures are reported back to the model as
// error text rather than aborting the turn.
func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall) string {
	tc, ok := a.routes[call.Name]
	if !ok {
		logger.L.Warn("model requested unknown tool", "tool", call.Name)
		return "Error: tool " + call.Name + " is not available"
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			logger.L.Error("failed to unmarshal tool arguments", "tool", call.Name, "error", err)
			return "Error: could not parse arguments for tool " + call.Name
		}
	}

	logger.L.Debug("calling tool", "tool", call.Name, "arguments", args)
	result, err := tc.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: call.Name, Arguments: args},
	})
	if err != nil {
		logger.L.Warn("MCP tool call failed", "tool", call.Name, "error", err)
		return "Error: tool " + call.Name + " failed: " + err.Error()
	}
	if result == nil {
		return "Error: tool " + call.Name + " returned no result"
	}
	for _, item := range result.Content {
		if text, ok := item.(mcp.TextContent); ok {
			return text.Text
		}
	}
	if raw, merr := json.Marshal(result); merr == nil {
		return string(raw)
	}
	return "Tool executed, but the result could not be formatted."
}

// Close shuts down all connected MCP clients.
func (a *Agent) Close() {
	for _, tc := range a.mcpClients {
		if err := tc.Close(); err != nil {
			logger.L.Warn("MCP client close error", "error", err)
		}
	}
}

func closeQuietly(tc ToolCaller, name string) {
	if err := tc.Close(); err != nil {
		logger.L.Warn("MCP client close error", "name", name, "error", err)
	}
}
