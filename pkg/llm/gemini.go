package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/model"
)

// GeminiProvider implements Provider against the hosted Gemini API. There is
// no ensure/pull lifecycle; hosted models either exist or the request fails.
type GeminiProvider struct {
	cfg    config.LLMConfig
	client *genai.Client
	log    *slog.Logger
}

// NewGeminiProvider builds a Gemini-backed provider.
func NewGeminiProvider(cfg config.LLMConfig, log *slog.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini requires an api key")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}

	return &GeminiProvider{cfg: cfg, client: client, log: log}, nil
}

func (p *GeminiProvider) ChatModel() string {
	return p.cfg.ChatModel
}

func (p *GeminiProvider) Close() error {
	return nil
}

// ChatStream starts a streaming chat completion.
func (p *GeminiProvider) ChatStream(ctx context.Context, messages []model.ChatMessage, opts ChatOptions) (<-chan StreamChunk, error) {
	chatModel := opts.Model
	if chatModel == "" {
		chatModel = p.cfg.ChatModel
	}

	contents, system := p.buildContents(messages)
	genCfg := p.buildConfig(system, opts)

	out := make(chan StreamChunk, streamChannelBuffer)
	go func() {
		defer close(out)

		var toolCalls []model.ToolCall
		for resp, err := range p.client.Models.GenerateContentStream(ctx, chatModel, contents, genCfg) {
			if err != nil {
				select {
				case out <- StreamChunk{Err: fmt.Errorf("llm: gemini stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				chunk := StreamChunk{}
				switch {
				case part.FunctionCall != nil:
					toolCalls = append(toolCalls, functionCallToToolCall(part.FunctionCall, len(toolCalls)))
					continue
				case part.Thought:
					chunk.Thinking = part.Text
				case part.Text != "":
					chunk.Content = part.Text
				default:
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case out <- StreamChunk{Done: true, ToolCalls: toolCalls}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func functionCallToToolCall(fc *genai.FunctionCall, index int) model.ToolCall {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d_%s", index, fc.Name)
	}
	args := fc.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	return model.ToolCall{ID: id, Name: fc.Name, Args: args}
}

func (p *GeminiProvider) buildContents(messages []model.ChatMessage) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			// Gemini takes the system prompt out of band; multiple
			// system messages concatenate.
			if system == nil {
				system = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
			} else {
				system.Parts = append(system.Parts, &genai.Part{Text: "\n" + msg.Content})
			}

		case model.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case model.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: map[string]interface{}{"result": msg.Content},
					},
				}},
			})

		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, system
}

func (p *GeminiProvider) buildConfig(system *genai.Content, opts ChatOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}

	switch {
	case opts.Temperature != nil:
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	case p.cfg.Temperature != nil:
		cfg.Temperature = genai.Ptr(float32(*p.cfg.Temperature))
	}

	for _, tool := range opts.Tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  rawSchemaToGenai(tool.Parameters),
			}},
		})
	}

	return cfg
}

// rawSchemaToGenai converts the opaque tool schema into the subset the
// Gemini API models natively.
func rawSchemaToGenai(raw json.RawMessage) *genai.Schema {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return mapSchemaToGenai(m)
}

func mapSchemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = mapSchemaToGenai(pm)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = mapSchemaToGenai(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

// Embed returns the embedding vector for one text.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}

	resp, err := p.client.Models.EmbedContent(ctx, p.cfg.EmbedModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, nil
	}
	return resp.Embeddings[0].Values, nil
}
