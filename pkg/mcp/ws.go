package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsDefaultPath = "/mcp"
	wsWriteWait   = 10 * time.Second

	defaultCallRetries = 3
	defaultRetryBase   = 1 * time.Second
	defaultRetryMax    = 10 * time.Second
)

// wsTransport speaks JSON-RPC over a long-lived WebSocket. Concurrent calls
// multiplex on monotonically increasing ids; one reader goroutine routes each
// response to its waiter, so out-of-order delivery is fine. A dropped
// connection fails every pending waiter and the next call re-dials.
type wsTransport struct {
	url         string
	headers     http.Header
	dialTimeout time.Duration
	log         *slog.Logger

	retries   int
	retryBase time.Duration
	retryMax  time.Duration

	nextID atomic.Int64

	mu     sync.Mutex
	conn   *wsConn
	closed bool
}

func newWSTransport(rawURL string, headers map[string]string, dialTimeout time.Duration, log *slog.Logger) *wsTransport {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &wsTransport{
		url:         normalizeWSURL(rawURL),
		headers:     h,
		dialTimeout: dialTimeout,
		log:         log,
		retries:     defaultCallRetries,
		retryBase:   defaultRetryBase,
		retryMax:    defaultRetryMax,
	}
}

// normalizeWSURL rewrites http schemes to their WebSocket equivalents and
// fills in the conventional /mcp path when none is given.
func normalizeWSURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = wsDefaultPath
	}
	return u.String()
}

// ensureConn returns the live connection, dialing a new one if the previous
// connection dropped.
func (t *wsTransport) ensureConn(ctx context.Context) (*wsConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClientClosed
	}
	if t.conn != nil && !t.conn.isDown() {
		return t.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.url, t.headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "dial " + t.url, Err: err}
	}

	wc := &wsConn{conn: conn, pending: make(map[int64]chan *Response)}
	t.conn = wc
	go wc.readLoop(t.log)
	return wc, nil
}

// call issues one JSON-RPC request, re-dialing and retrying transport
// failures with exponential backoff. RPC errors and cancellations pass
// through without retry.
func (t *wsTransport) call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var lastErr error
	delay := t.retryBase

	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			t.log.Debug("retrying tool server call", "method", method, "attempt", attempt, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > t.retryMax {
				delay = t.retryMax
			}
		}

		conn, err := t.ensureConn(ctx)
		if err != nil {
			if !IsTransportError(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		req := Request{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method, Params: params}
		resp, err := conn.roundTrip(ctx, req)
		if err != nil {
			if !IsTransportError(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, lastErr
}

func (t *wsTransport) Initialize(ctx context.Context) error {
	resp, err := t.call(ctx, MethodInitialize, newInitializeParams())
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (t *wsTransport) ListTools(ctx context.Context) ([]wireTool, error) {
	resp, err := t.call(ctx, MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return decodeListTools(resp.Result)
}

func (t *wsTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	resp, err := t.call(ctx, MethodCallTool, CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return decodeCallResult(resp.Result)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	resp, err := t.call(ctx, MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Close drops the connection. Every pending waiter receives a cancellation.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.fail(ErrClientClosed)
	}
	return nil
}

// wsConn is one dialed connection with its pending-response table.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *Response
	err     error
	down    bool
}

// roundTrip registers a waiter, writes the request, and blocks until the
// reader delivers the matching response, the connection drops, or ctx ends.
func (c *wsConn) roundTrip(ctx context.Context, req Request) (*Response, error) {
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.down {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		werr := &TransportError{Op: "write", Err: err}
		c.fail(werr)
		return nil, werr
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.failure()
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// readLoop routes responses to waiters by id until the connection drops.
func (c *wsConn) readLoop(log *slog.Logger) {
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(&TransportError{Op: "read", Err: err})
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &resp
		} else {
			log.Debug("dropping tool server response with no waiter", "id", resp.ID)
		}
	}
}

// fail marks the connection down and releases every pending waiter with err.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return
	}
	c.down = true
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.conn.Close()
}

func (c *wsConn) isDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *wsConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
