package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Methods of the tool-server dialect.
const (
	MethodInitialize = "initialize"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"
	MethodPing       = "ping"
)

// JSON-RPC error codes tool servers may return.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "helicon"
	clientVersion   = "0.1.0"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object a tool server attaches to a failed request.
// It implements error so business errors surface to callers verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CallParams is the params object for tools/call.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      clientInfo             `json:"clientInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

func newInitializeParams() initializeParams {
	return initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
		Capabilities:    map[string]interface{}{},
	}
}

// wireTool is one tool entry in a tools/list result. The input schema stays
// raw; the registry validates it and forwards it untouched.
type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []wireTool `json:"tools"`
}

func decodeListTools(raw json.RawMessage) ([]wireTool, error) {
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	return res.Tools, nil
}

// contentItem is one entry of a tools/call result: structured JSON or text.
type contentItem struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// decodeCallResult flattens a tools/call result: a single json item decodes
// to its value, text items join into one string, mixed content becomes a
// slice. A result flagged isError comes back as an error carrying the text.
func decodeCallResult(raw json.RawMessage) (interface{}, error) {
	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("malformed tools/call result: %w", err)
	}

	values := make([]interface{}, 0, len(res.Content))
	texts := make([]string, 0, len(res.Content))
	allText := true
	for _, item := range res.Content {
		switch item.Type {
		case "json":
			var v interface{}
			if err := json.Unmarshal(item.JSON, &v); err != nil {
				return nil, fmt.Errorf("malformed json content item: %w", err)
			}
			values = append(values, v)
			allText = false
		default:
			values = append(values, item.Text)
			texts = append(texts, item.Text)
		}
	}

	if res.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("tool failed: %s", msg)
	}

	switch {
	case len(values) == 0:
		return "", nil
	case len(values) == 1:
		return values[0], nil
	case allText:
		return strings.Join(texts, "\n"), nil
	default:
		return values, nil
	}
}
