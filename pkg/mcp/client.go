package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/helicon-ai/helicon/pkg/config"
)

// Client is the runtime's handle on one tool server. It owns the transport,
// the server's namespace prefix, and the health flag the registry consults
// when routing calls.
type Client struct {
	id  string
	cfg config.MCPServerConfig
	log *slog.Logger

	connectTimeout time.Duration
	callTimeout    time.Duration

	tr       transport
	healthy  atomic.Bool
	lastSeen atomic.Int64
}

type ClientOption func(*Client)

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithTimeouts bounds connection establishment and individual tool calls.
func WithTimeouts(connect, call time.Duration) ClientOption {
	return func(c *Client) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if call > 0 {
			c.callTimeout = call
		}
	}
}

// NewClient builds the client for one configured server. The transport comes
// from the explicit setting or the URL scheme: ws/wss connect over WebSocket,
// http/https use the POST fallback, a command spawns a stdio subprocess.
func NewClient(cfg config.MCPServerConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{
		id:             cfg.Name,
		cfg:            cfg,
		log:            slog.Default(),
		connectTimeout: 10 * time.Second,
		callTimeout:    60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("server", c.id)

	tr, err := c.buildTransport()
	if err != nil {
		return nil, err
	}
	c.tr = tr
	return c, nil
}

func (c *Client) buildTransport() (transport, error) {
	if c.cfg.Command != "" || c.cfg.Transport == config.MCPTransportStdio {
		return newStdioTransport(c.cfg)
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("server %s: invalid url %q: %w", c.id, c.cfg.URL, err)
	}

	switch c.cfg.Transport {
	case config.MCPTransportWebSocket:
		return newWSTransport(c.cfg.URL, c.cfg.Headers, c.connectTimeout, c.log), nil
	case config.MCPTransportHTTP:
		return newHTTPTransport(c.cfg.URL, c.cfg.Headers, c.callTimeout), nil
	}

	switch u.Scheme {
	case "ws", "wss":
		return newWSTransport(c.cfg.URL, c.cfg.Headers, c.connectTimeout, c.log), nil
	default:
		return newHTTPTransport(c.cfg.URL, c.cfg.Headers, c.callTimeout), nil
	}
}

// Connect establishes the transport and performs the protocol handshake.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := c.tr.Initialize(ctx); err != nil {
		c.healthy.Store(false)
		return fmt.Errorf("server %s: %w", c.id, err)
	}
	c.healthy.Store(true)
	c.touch()
	return nil
}

// ListTools discovers the server's tools, namespacing each one under
// "<server>.<local>". A terminal failure marks the server unhealthy; a
// successful round-trip restores it.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	tools, err := c.tr.ListTools(ctx)
	if err != nil {
		c.healthy.Store(false)
		return nil, fmt.Errorf("server %s: %w", c.id, err)
	}
	c.healthy.Store(true)
	c.touch()

	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		descriptors = append(descriptors, ToolDescriptor{
			ServerID:      c.id,
			QualifiedName: c.id + "." + t.Name,
			Description:   t.Description,
			InputSchema:   t.InputSchema,
		})
	}
	return descriptors, nil
}

// CallTool invokes a tool by its qualified name, forwarding the local name
// to the server. Business errors from the server pass through untouched;
// transport failures mark the server unhealthy. Health is only restored by
// the next successful ListTools.
func (c *Client) CallTool(ctx context.Context, qualifiedName string, args map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	local := strings.TrimPrefix(qualifiedName, c.id+".")
	result, err := c.tr.CallTool(ctx, local, args)
	if err != nil {
		if IsTransportError(err) {
			c.healthy.Store(false)
		}
		return nil, err
	}
	c.touch()
	return result, nil
}

// HealthCheck probes the server with an out-of-band ping. The outcome does
// not feed the healthy flag.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	return c.tr.Ping(ctx) == nil
}

// Close releases the transport. Pending waiters receive a cancellation.
func (c *Client) Close() error {
	c.healthy.Store(false)
	return c.tr.Close()
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Handle reports the registry-facing view of this server.
func (c *Client) Handle(toolCount int) ServerHandle {
	addr := c.cfg.URL
	if addr == "" {
		addr = c.cfg.Command
	}

	var lastSeen time.Time
	if nanos := c.lastSeen.Load(); nanos > 0 {
		lastSeen = time.Unix(0, nanos)
	}

	return ServerHandle{
		ServerID:  c.id,
		URL:       addr,
		Healthy:   c.healthy.Load(),
		LastSeen:  lastSeen,
		ToolCount: toolCount,
	}
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}
