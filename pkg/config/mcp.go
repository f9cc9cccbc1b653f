package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// MCPTransport selects how a tool server is reached.
type MCPTransport string

const (
	// MCPTransportAuto picks the transport from the URL scheme: ws/wss
	// connect over WebSocket, http/https use POST.
	MCPTransportAuto MCPTransport = "auto"
	// MCPTransportWebSocket forces the WebSocket transport.
	MCPTransportWebSocket MCPTransport = "ws"
	// MCPTransportHTTP forces the HTTP POST transport.
	MCPTransportHTTP MCPTransport = "http"
	// MCPTransportStdio runs the server as a child process.
	MCPTransportStdio MCPTransport = "stdio"
)

// MCPServerConfig describes one tool server.
//
// URL-based entries reach a network server; command entries spawn a child
// process speaking MCP over stdio. Exactly one of URL or Command must be set.
type MCPServerConfig struct {
	// Name prefixes every tool from this server ("name.tool").
	// Derived from the URL host or command basename when empty.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Server name used to qualify tool names"`

	// URL of the tool server (http(s):// or ws(s)://).
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Tool server endpoint"`

	// Transport overrides endpoint probing (auto, ws, http, stdio).
	Transport MCPTransport `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"title=Transport,enum=auto,enum=ws,enum=http,enum=stdio,default=auto"`

	// Command starts a stdio tool server as a child process.
	Command string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"title=Command,description=Executable for a stdio tool server"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env is added to the child process environment (stdio only).
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Headers are sent with every request (network transports only).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// MCPConfig configures tool server connections and catalog refresh.
type MCPConfig struct {
	// Servers lists the tool servers to connect to.
	Servers []MCPServerConfig `yaml:"servers,omitempty" json:"servers,omitempty"`

	// RefreshSeconds is the catalog refresh interval. Zero or negative
	// disables periodic refresh. Default: 300.
	RefreshSeconds *int `yaml:"refresh_seconds,omitempty" json:"refresh_seconds,omitempty" jsonschema:"title=Refresh Seconds,description=Catalog refresh interval in seconds; <= 0 disables,default=300"`

	// ConnectTimeout bounds the initial connect and discovery per server.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`

	// CallTimeout bounds a single tool call.
	// Default: 60s
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty"`
}

// SetDefaults applies default values to MCPConfig.
func (c *MCPConfig) SetDefaults() {
	if c.RefreshSeconds == nil {
		c.RefreshSeconds = IntPtr(300)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 60 * time.Second
	}

	for i := range c.Servers {
		c.Servers[i].SetDefaults()
	}
}

// RefreshInterval returns the refresh interval, zero when disabled.
func (c *MCPConfig) RefreshInterval() time.Duration {
	if c.RefreshSeconds == nil || *c.RefreshSeconds <= 0 {
		return 0
	}
	return time.Duration(*c.RefreshSeconds) * time.Second
}

// Validate checks the MCPConfig for errors.
func (c *MCPConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("server %d: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// SetDefaults derives the server name and transport when unset.
func (c *MCPServerConfig) SetDefaults() {
	if c.Transport == "" {
		if c.Command != "" {
			c.Transport = MCPTransportStdio
		} else {
			c.Transport = MCPTransportAuto
		}
	}
	if c.Name == "" {
		c.Name = deriveServerName(c.URL, c.Command)
	}
}

// Validate checks the MCPServerConfig for errors.
func (c *MCPServerConfig) Validate() error {
	if c.URL == "" && c.Command == "" {
		return fmt.Errorf("either url or command is required")
	}
	if c.URL != "" && c.Command != "" {
		return fmt.Errorf("url and command are mutually exclusive")
	}

	switch c.Transport {
	case MCPTransportAuto, MCPTransportWebSocket, MCPTransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("transport %q requires url", c.Transport)
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", c.URL, err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	case MCPTransportStdio:
		if c.Command == "" {
			return fmt.Errorf("transport %q requires command", c.Transport)
		}
	default:
		return fmt.Errorf("invalid transport %q (valid: auto, ws, http, stdio)", c.Transport)
	}

	return nil
}

// deriveServerName builds a stable server name from the endpoint. The result
// only needs to be unique per config; tool-name sanitization happens later.
func deriveServerName(rawURL, command string) string {
	if command != "" {
		base := filepath.Base(command)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		return sanitizeName(base)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return sanitizeName(rawURL)
	}
	return sanitizeName(u.Host)
}

func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "server"
	}
	return out
}
