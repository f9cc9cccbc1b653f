package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/helicon-ai/helicon/pkg/config"
)

// stdioTransport drives a subprocess tool server over stdin/stdout using the
// mcp-go client.
type stdioTransport struct {
	client  *mcpclient.Client
	command string
}

func newStdioTransport(cfg config.MCPServerConfig) (*stdioTransport, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	cli, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, &TransportError{Op: "spawn " + cfg.Command, Err: err}
	}
	return &stdioTransport{client: cli, command: cfg.Command}, nil
}

func (t *stdioTransport) Initialize(ctx context.Context) error {
	if err := t.client.Start(ctx); err != nil {
		return &TransportError{Op: "start " + t.command, Err: err}
	}

	req := mcpproto.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcpproto.Implementation{Name: clientName, Version: clientVersion}
	if _, err := t.client.Initialize(ctx, req); err != nil {
		return &TransportError{Op: "initialize", Err: err}
	}
	return nil
}

func (t *stdioTransport) ListTools(ctx context.Context) ([]wireTool, error) {
	resp, err := t.client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, &TransportError{Op: "tools/list", Err: err}
	}

	tools := make([]wireTool, 0, len(resp.Tools))
	for _, mt := range resp.Tools {
		schema, err := json.Marshal(mt.InputSchema)
		if err != nil {
			schema = nil
		}
		tools = append(tools, wireTool{
			Name:        mt.Name,
			Description: mt.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (t *stdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	req := mcpproto.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, &TransportError{Op: "tools/call", Err: err}
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcpproto.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	if resp.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("tool failed: %s", msg)
	}

	if len(texts) == 1 {
		return texts[0], nil
	}
	return strings.Join(texts, "\n"), nil
}

func (t *stdioTransport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx); err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	return nil
}

func (t *stdioTransport) Close() error {
	return t.client.Close()
}
