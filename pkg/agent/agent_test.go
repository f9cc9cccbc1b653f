package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/llm"
	"github.com/helicon-ai/helicon/pkg/model"
)

// scriptedLLM replays one scripted chunk sequence per turn.
type scriptedLLM struct {
	turns [][]llm.StreamChunk
	calls int
}

func (s *scriptedLLM) ChatStream(ctx context.Context, messages []model.ChatMessage, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	var script []llm.StreamChunk
	if s.calls < len(s.turns) {
		script = s.turns[s.calls]
	} else {
		script = s.turns[len(s.turns)-1]
	}
	s.calls++

	ch := make(chan llm.StreamChunk, len(script))
	for _, chunk := range script {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (s *scriptedLLM) ChatModel() string                               { return "test-model" }
func (s *scriptedLLM) Close() error                                    { return nil }

type fakeRouter struct {
	tools   []model.ToolDefinition
	results map[string]interface{}
	err     error
	called  []string
}

func (r *fakeRouter) ToLLMTools() []model.ToolDefinition { return r.tools }

func (r *fakeRouter) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.called = append(r.called, name)
	if r.err != nil {
		return nil, r.err
	}
	return r.results[name], nil
}

func agentConfig(maxIterations int) config.AgentConfig {
	cfg := config.AgentConfig{MaxIterations: maxIterations}
	cfg.SetDefaults()
	cfg.MaxIterations = maxIterations
	return cfg
}

func collect(events <-chan model.Event) []model.Event {
	var out []model.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRun_SingleToolRule(t *testing.T) {
	// The model emits two tool calls in one message; only the first runs,
	// and a corrective reminder is appended.
	provider := &scriptedLLM{turns: [][]llm.StreamChunk{
		{
			{Thinking: "the user wants 3 doubled"},
			{Done: true, ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "multiply", Args: map[string]interface{}{"a": 3.0, "b": 2.0}},
				{ID: "c2", Name: "multiply", Args: map[string]interface{}{"a": 6.0, "b": 1.0}},
			}},
		},
		{
			{Content: "The answer is 6."},
			{Done: true},
		},
	}}
	router := &fakeRouter{results: map[string]interface{}{"multiply": 6.0}}

	a := New(agentConfig(10), provider, router)
	events, record := a.Run(context.Background(),
		[]model.ChatMessage{model.UserMessage("double 3")}, RunOptions{EnableTools: true})
	got := collect(events)

	if len(router.called) != 1 || router.called[0] != "multiply" {
		t.Fatalf("router calls = %v, want exactly one multiply", router.called)
	}

	var starts, ends int
	for _, ev := range got {
		if ev.Type == model.EventTool {
			switch ev.Tool.Status {
			case model.ToolStatusStart:
				starts++
				if ev.Tool.Args["a"] != 3.0 || ev.Tool.Args["b"] != 2.0 {
					t.Errorf("tool.start args = %v, want the first call's args", ev.Tool.Args)
				}
			case model.ToolStatusEnd:
				ends++
			}
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("tool starts/ends = %d/%d, want 1/1", starts, ends)
	}

	// The corrective system reminder is part of the recorded messages.
	foundReminder := false
	for _, msg := range record.Messages {
		if msg.Role == model.RoleSystem && strings.Contains(msg.Content, "multiple tools") {
			foundReminder = true
		}
	}
	if !foundReminder {
		t.Error("expected a corrective system reminder in the record")
	}

	if record.Status != model.StatusSuccess {
		t.Errorf("status = %q, want success", record.Status)
	}
	if record.FinalText != "The answer is 6." {
		t.Errorf("final text = %q", record.FinalText)
	}
}

func TestRun_IterationCap(t *testing.T) {
	// A tool call on every turn exhausts the budget.
	provider := &scriptedLLM{turns: [][]llm.StreamChunk{
		{{Done: true, ToolCalls: []model.ToolCall{{ID: "c", Name: "loop", Args: map[string]interface{}{}}}}},
	}}
	router := &fakeRouter{results: map[string]interface{}{"loop": "again"}}

	a := New(agentConfig(3), provider, router)
	events, record := a.Run(context.Background(),
		[]model.ChatMessage{model.UserMessage("go")}, RunOptions{EnableTools: true})
	got := collect(events)

	var starts, ends int
	var done *model.DonePayload
	for _, ev := range got {
		switch ev.Type {
		case model.EventTool:
			switch ev.Tool.Status {
			case model.ToolStatusStart:
				starts++
			case model.ToolStatusEnd:
				ends++
			}
		case model.EventDone:
			done = ev.Done
		}
	}

	if starts != 3 || ends != 3 {
		t.Errorf("tool starts/ends = %d/%d, want 3/3", starts, ends)
	}
	if done == nil {
		t.Fatal("no done event")
	}
	if done.Metadata.Status != model.StatusMaxIterations {
		t.Errorf("done status = %q, want max_iterations", done.Metadata.Status)
	}
	if done.FinalText != "" {
		t.Errorf("final text = %q, want empty", done.FinalText)
	}
	if record.Iterations != 3 {
		t.Errorf("record iterations = %d, want 3", record.Iterations)
	}
}

func TestRun_EventGrammarAndNoThinking(t *testing.T) {
	provider := &scriptedLLM{turns: [][]llm.StreamChunk{
		{
			{Thinking: "SECRET plan"},
			{Done: true, ToolCalls: []model.ToolCall{{ID: "c", Name: "lookup", Args: map[string]interface{}{}}}},
		},
		{
			{Thinking: "SECRET more"},
			{Content: "All done here."},
			{Done: true},
		},
	}}
	router := &fakeRouter{results: map[string]interface{}{"lookup": map[string]interface{}{"found": true}}}

	a := New(agentConfig(10), provider, router)
	events, _ := a.Run(context.Background(),
		[]model.ChatMessage{model.UserMessage("look it up")}, RunOptions{EnableTools: true})
	got := collect(events)

	// Grammar: (log|tool)* token* done, exactly one done, tokens never
	// before a tool event.
	sawToken := false
	doneCount := 0
	for _, ev := range got {
		switch ev.Type {
		case model.EventToken:
			sawToken = true
		case model.EventTool, model.EventLog:
			if sawToken {
				t.Fatalf("event %v after tokens began", ev.Type)
			}
		case model.EventDone:
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("done events = %d, want exactly 1", doneCount)
	}
	if got[len(got)-1].Type != model.EventDone {
		t.Error("done is not the final event")
	}

	// Thinking must not leak into any serialized payload.
	for _, ev := range got {
		raw, err := json.Marshal(ev.Payload())
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if strings.Contains(string(raw), "SECRET") {
			t.Fatalf("thinking leaked into event: %s", raw)
		}
	}

	// Token round-trip: concatenated token text equals the final text.
	var text strings.Builder
	var final string
	for _, ev := range got {
		if ev.Type == model.EventToken {
			text.WriteString(ev.Token.Text)
		}
		if ev.Type == model.EventDone {
			final = ev.Done.FinalText
		}
	}
	if text.String() != final {
		t.Errorf("token concat = %q, want %q", text.String(), final)
	}
}

func TestRun_ToolErrorFeedsBack(t *testing.T) {
	provider := &scriptedLLM{turns: [][]llm.StreamChunk{
		{{Done: true, ToolCalls: []model.ToolCall{{ID: "c", Name: "broken", Args: map[string]interface{}{}}}}},
		{{Content: "Sorry, the tool failed."}, {Done: true}},
	}}
	router := &fakeRouter{err: errors.New("connection refused")}

	a := New(agentConfig(10), provider, router)
	events, record := a.Run(context.Background(),
		[]model.ChatMessage{model.UserMessage("try it")}, RunOptions{EnableTools: true})
	got := collect(events)

	// The failure surfaces as a tool event with error status, and the
	// tool message carries a JSON error object for the model.
	sawToolError := false
	for _, ev := range got {
		if ev.Type == model.EventTool && ev.Tool.Status == model.ToolStatusError {
			sawToolError = true
		}
	}
	if !sawToolError {
		t.Error("expected a tool error event")
	}

	var toolMsg *model.ChatMessage
	for i := range record.Messages {
		if record.Messages[i].Role == model.RoleTool {
			toolMsg = &record.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("tool message is not JSON: %v", err)
	}
	if !strings.Contains(payload["error"], "connection refused") {
		t.Errorf("tool error payload = %v", payload)
	}

	if record.Status != model.StatusSuccess {
		t.Errorf("status = %q, want success (the loop recovers)", record.Status)
	}
}

func TestRun_InsertsSystemPrompt(t *testing.T) {
	var seen []model.ChatMessage
	provider := &scriptedLLM{turns: [][]llm.StreamChunk{
		{{Content: "hi"}, {Done: true}},
	}}

	// Wrap ChatStream to capture the conversation.
	captured := &capturingLLM{inner: provider, seen: &seen}

	a := New(agentConfig(10), captured, &fakeRouter{})
	events, _ := a.Run(context.Background(),
		[]model.ChatMessage{model.UserMessage("hello")}, RunOptions{})
	collect(events)

	if len(seen) == 0 || seen[0].Role != model.RoleSystem {
		t.Fatalf("conversation does not open with a system message: %+v", seen)
	}
}

type capturingLLM struct {
	inner *scriptedLLM
	seen  *[]model.ChatMessage
}

func (c *capturingLLM) ChatStream(ctx context.Context, messages []model.ChatMessage, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	*c.seen = append([]model.ChatMessage(nil), messages...)
	return c.inner.ChatStream(ctx, messages, opts)
}

func (c *capturingLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}
func (c *capturingLLM) ChatModel() string { return c.inner.ChatModel() }
func (c *capturingLLM) Close() error      { return c.inner.Close() }
