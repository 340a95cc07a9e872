package backend

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ToolBridge executes tool_use events against a single stdio MCP server and
// turns the result into the tool_result text a backend adapter feeds back to
// the assistant. cmd/pocketpaw wires one into a codex/claude/gemini
// subprocess adapter only when that backend's config lists an MCP server
// (the first mcp_servers entry); adapters without one run without a bridge.
type ToolBridge struct {
	client *mcpclient.Client
	tools  map[string]struct{}
}

// NewToolBridge launches command as a stdio MCP server and performs the
// initialize handshake. The returned bridge's CallTool rejects any tool name
// the server didn't advertise in its tools/list response.
func NewToolBridge(ctx context.Context, command string, args []string, env map[string]string) (*ToolBridge, error) {
	client, err := mcpclient.NewStdioMCPClient(command, envSlice(env), args...)
	if err != nil {
		return nil, fmt.Errorf("mcp bridge: start %s: %w", command, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "pocketpaw", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp bridge: initialize %s: %w", command, err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp bridge: list tools: %w", err)
	}

	names := make(map[string]struct{}, len(listed.Tools))
	for _, t := range listed.Tools {
		names[t.Name] = struct{}{}
	}
	return &ToolBridge{client: client, tools: names}, nil
}

// CallTool invokes one tool and flattens its text content blocks into a
// single string — all the NDJSON translation tables need for a tool_result
// event's Content.
func (b *ToolBridge) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if _, ok := b.tools[name]; !ok {
		return "", fmt.Errorf("mcp bridge: unknown tool %q", name)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp bridge: call %s: %w", name, err)
	}

	var out strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			out.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return out.String(), fmt.Errorf("mcp bridge: %s reported an error", name)
	}
	return out.String(), nil
}

// Close shuts down the underlying server process.
func (b *ToolBridge) Close() error {
	return b.client.Close()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}
