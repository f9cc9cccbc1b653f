package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/helicon-ai/helicon/pkg/httpclient"
)

// httpTransport is the request/response fallback for servers without a
// WebSocket endpoint. Each JSON-RPC envelope is POSTed to the path named
// after its method, e.g. /tools/list and /tools/call. Retry with backoff is
// delegated to the shared retrying HTTP client.
type httpTransport struct {
	baseURL string
	headers map[string]string
	client  *httpclient.Client
	nextID  atomic.Int64
}

func newHTTPTransport(rawURL string, headers map[string]string, timeout time.Duration) *httpTransport {
	return &httpTransport{
		baseURL: strings.TrimRight(rawURL, "/"),
		headers: headers,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(defaultCallRetries),
			httpclient.WithBaseDelay(defaultRetryBase),
			httpclient.WithMaxDelay(defaultRetryMax),
		),
	}
}

func (t *httpTransport) roundTrip(ctx context.Context, method string, params interface{}) (*Response, error) {
	req := Request{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "post " + method, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &TransportError{
			Op:  "post " + method,
			Err: fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	// Some servers answer the POST as a one-shot SSE stream.
	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(httpResp.Body)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read " + method, Err: err}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Op: "parse " + method, Err: err}
	}
	return &resp, nil
}

// readSSEResponse extracts the first complete JSON-RPC message from an SSE
// body: data lines accumulate until a blank line, then parse.
func readSSEResponse(body io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	flush := func() (*Response, bool) {
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err == nil {
			return &resp, true
		}
		data.Reset()
		return nil, false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if resp, ok := flush(); ok {
				return resp, nil
			}
			continue
		}
		if rest, found := strings.CutPrefix(line, "data:"); found {
			data.WriteString(strings.TrimSpace(rest))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Op: "read sse", Err: err}
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, &TransportError{Op: "read sse", Err: fmt.Errorf("stream ended without a complete message")}
}

func (t *httpTransport) Initialize(ctx context.Context) error {
	resp, err := t.roundTrip(ctx, MethodInitialize, newInitializeParams())
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (t *httpTransport) ListTools(ctx context.Context) ([]wireTool, error) {
	resp, err := t.roundTrip(ctx, MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return decodeListTools(resp.Result)
}

func (t *httpTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	resp, err := t.roundTrip(ctx, MethodCallTool, CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return decodeCallResult(resp.Result)
}

func (t *httpTransport) Ping(ctx context.Context) error {
	resp, err := t.roundTrip(ctx, MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Close is a no-op: the fallback holds no persistent connection.
func (t *httpTransport) Close() error {
	return nil
}
