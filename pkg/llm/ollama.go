package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/httpclient"
	"github.com/helicon-ai/helicon/pkg/model"
)

// streamChannelBuffer decouples the stream reader from a slow consumer.
const streamChannelBuffer = 100

// OllamaProvider speaks the Ollama HTTP dialect: POST /api/chat with JSON
// lines streaming, /api/embeddings, /api/show and /api/pull.
type OllamaProvider struct {
	cfg     config.LLMConfig
	baseURL string
	log     *slog.Logger

	// client bounds non-streaming requests; streamClient has no overall
	// timeout because a chat stream lives as long as the generation.
	client       *httpclient.Client
	streamClient *httpclient.Client

	// ensureMu serializes model availability checks; ensured caches the
	// models already confirmed on the runtime for this process.
	ensureMu sync.Mutex
	ensured  map[string]bool
}

// NewOllamaProvider builds a provider from the configuration. The connection
// is lazy; the first request reaches the runtime.
func NewOllamaProvider(cfg config.LLMConfig, log *slog.Logger) *OllamaProvider {
	if log == nil {
		log = slog.Default()
	}

	return &OllamaProvider{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		log:     log,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		),
		streamClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{}),
		),
		ensured: make(map[string]bool),
	}
}

// ChatModel returns the configured chat model name.
func (p *OllamaProvider) ChatModel() string {
	return p.cfg.ChatModel
}

func (p *OllamaProvider) Close() error {
	return nil
}

// Wire types for the Ollama dialect.

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Thinking   string           `json:"thinking,omitempty"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Options   *ollamaOptions  `json:"options,omitempty"`
	Think     interface{}     `json:"think,omitempty"`
	Tools     []ollamaTool    `json:"tools,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

// ollamaStreamLine is one JSON line of a streaming chat response. Tool call
// fragments are keyed by index; arguments arrive either as string fragments
// or as a complete object, so they stay raw until the stream finishes.
type ollamaStreamLine struct {
	Message struct {
		Thinking  string `json:"thinking"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Index    *int   `json:"index"`
			ID       string `json:"id"`
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// ChatStream starts a streaming chat completion.
func (p *OllamaProvider) ChatStream(ctx context.Context, messages []model.ChatMessage, opts ChatOptions) (<-chan StreamChunk, error) {
	chatModel := opts.Model
	if chatModel == "" {
		chatModel = p.cfg.ChatModel
	}
	if err := p.ensureModel(ctx, chatModel); err != nil {
		return nil, err
	}

	req := p.buildChatRequest(chatModel, messages, opts)

	out := make(chan StreamChunk, streamChannelBuffer)
	go func() {
		defer close(out)
		if err := p.pumpStream(ctx, req, out); err != nil {
			select {
			case out <- StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (p *OllamaProvider) buildChatRequest(chatModel string, messages []model.ChatMessage, opts ChatOptions) ollamaChatRequest {
	wire := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		m := ollamaMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
		}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Type = "function"
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Args
			if otc.Function.Arguments == nil {
				otc.Function.Arguments = map[string]interface{}{}
			}
			m.ToolCalls = append(m.ToolCalls, otc)
		}
		wire = append(wire, m)
	}

	req := ollamaChatRequest{
		Model:     chatModel,
		Messages:  wire,
		Stream:    true,
		KeepAlive: p.cfg.KeepAlive,
	}

	options := ollamaOptions{NumCtx: p.cfg.NumCtx}
	switch {
	case opts.Temperature != nil:
		options.Temperature = *opts.Temperature
	case p.cfg.Temperature != nil:
		options.Temperature = *p.cfg.Temperature
	}
	req.Options = &options

	think := opts.Think
	if think == "" {
		think = p.cfg.ThinkLevel
	}
	if think != "" {
		req.Think = think
	}

	for _, tool := range opts.Tools {
		var t ollamaTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Parameters
		req.Tools = append(req.Tools, t)
	}

	return req
}

// toolCallAccumulator collects the streamed fragments of one tool call.
// The name appends as a string; arguments stay raw bytes until the stream
// completes and are parsed exactly once.
type toolCallAccumulator struct {
	id      string
	name    strings.Builder
	argText strings.Builder
	argObj  json.RawMessage
}

func (a *toolCallAccumulator) addArguments(raw json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return
	}
	if trimmed[0] == '"' {
		var fragment string
		if json.Unmarshal(trimmed, &fragment) == nil {
			a.argText.WriteString(fragment)
		}
		return
	}
	// A complete (or re-sent) object replaces anything seen so far.
	a.argObj = append(json.RawMessage(nil), trimmed...)
}

func (a *toolCallAccumulator) parse(log *slog.Logger) map[string]interface{} {
	raw := a.argObj
	if raw == nil {
		if a.argText.Len() == 0 {
			return map[string]interface{}{}
		}
		raw = json.RawMessage(a.argText.String())
	}

	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		log.Warn("unparseable tool call arguments, using empty object",
			"tool", a.name.String(), "error", err)
		return map[string]interface{}{}
	}
	return args
}

func (p *OllamaProvider) pumpStream(ctx context.Context, req ollamaChatRequest, out chan<- StreamChunk) error {
	resp, err := p.post(ctx, p.streamClient, "/api/chat", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newHTTPError(resp)
	}

	accumulators := make(map[int]*toolCallAccumulator)
	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("llm: read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ollamaStreamLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			return &ProtocolError{Reason: "malformed stream line", Err: err}
		}

		if chunk.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Snippet: chunk.Error}
		}

		for _, tc := range chunk.Message.ToolCalls {
			idx := len(accumulators)
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := accumulators[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				accumulators[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			acc.name.WriteString(tc.Function.Name)
			acc.addArguments(tc.Function.Arguments)
		}

		if chunk.Message.Thinking != "" || chunk.Message.Content != "" {
			select {
			case out <- StreamChunk{Thinking: chunk.Message.Thinking, Content: chunk.Message.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if chunk.Done {
			final := StreamChunk{Done: true, ToolCalls: p.collectToolCalls(accumulators)}
			select {
			case out <- final:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}
}

// collectToolCalls parses the accumulated fragments in index order.
func (p *OllamaProvider) collectToolCalls(accumulators map[int]*toolCallAccumulator) []model.ToolCall {
	if len(accumulators) == 0 {
		return nil
	}

	calls := make([]model.ToolCall, 0, len(accumulators))
	for i := 0; i < len(accumulators); i++ {
		acc, ok := accumulators[i]
		if !ok {
			continue
		}
		id := acc.id
		if id == "" {
			id = fmt.Sprintf("call_%d_%s", i, acc.name.String())
		}
		calls = append(calls, model.ToolCall{
			ID:   id,
			Name: acc.name.String(),
			Args: acc.parse(p.log),
		})
	}
	return calls
}

// Embed returns the embedding for one text, ensuring the embedding model is
// present first. An empty embedding from the runtime is passed through; the
// embedder decides how to report it.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.ensureModel(ctx, p.cfg.EmbedModel); err != nil {
		return nil, err
	}

	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{Model: p.cfg.EmbedModel, Prompt: text}

	resp, err := p.post(ctx, p.client, "/api/embeddings", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProtocolError{Reason: "malformed embeddings response", Err: err}
	}
	return out.Embedding, nil
}

// ModelExists probes the runtime for a model by name.
func (p *OllamaProvider) ModelExists(ctx context.Context, name string) (bool, error) {
	payload := struct {
		Name string `json:"name"`
	}{Name: name}

	resp, err := p.post(ctx, p.client, "/api/show", payload)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &HTTPError{StatusCode: resp.StatusCode, Snippet: "unexpected status from /api/show"}
	}
}

// ensureModel confirms the model is present on the runtime, pulling it when
// auto-pull is enabled. Concurrent callers serialize on the lock; confirmed
// models are cached for the process lifetime.
func (p *OllamaProvider) ensureModel(ctx context.Context, name string) error {
	p.ensureMu.Lock()
	defer p.ensureMu.Unlock()

	if p.ensured[name] {
		return nil
	}

	exists, err := p.ModelExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		p.ensured[name] = true
		return nil
	}

	if !config.BoolValue(p.cfg.AutoPull, true) {
		return fmt.Errorf("llm: model %q: %w", name, ErrModelMissing)
	}

	p.log.Info("pulling model", "model", name)
	if err := p.pullModel(ctx, name); err != nil {
		return fmt.Errorf("llm: pull model %q: %w", name, err)
	}
	p.log.Info("model pulled", "model", name)

	p.ensured[name] = true
	return nil
}

func (p *OllamaProvider) pullModel(ctx context.Context, name string) error {
	payload := struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{Name: name, Stream: false}

	// A pull downloads the model weights; the bounded client would cut it
	// off mid-transfer.
	resp, err := p.post(ctx, p.streamClient, "/api/pull", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newHTTPError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *OllamaProvider) post(ctx context.Context, client *httpclient.Client, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("llm: %s: %w", path, err)
	}
	return resp, nil
}
