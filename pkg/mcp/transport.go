package mcp

import "context"

// transport is one live connection to a tool server. Implementations must be
// safe for concurrent use. Close releases the connection and fails every
// pending waiter.
type transport interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]wireTool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	Ping(ctx context.Context) error
	Close() error
}
