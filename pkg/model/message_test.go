package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"strips_nul", "hel\x00lo", "hello"},
		{"strips_control", "a\x01b\x02c", "abc"},
		{"keeps_newlines_tabs", "line1\nline2\tend", "line1\nline2\tend"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeContent(tt.input); got != tt.want {
				t.Errorf("SanitizeContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeContentCapsLength(t *testing.T) {
	long := strings.Repeat("x", maxContentLen+100)
	if got := SanitizeContent(long); len(got) != maxContentLen {
		t.Errorf("Expected content capped at %d, got %d", maxContentLen, len(got))
	}
}

func TestUserMessageSanitizes(t *testing.T) {
	msg := UserMessage("hi\x00there")
	if msg.Content != "hithere" {
		t.Errorf("Expected sanitized content, got %q", msg.Content)
	}
	if msg.Role != RoleUser {
		t.Errorf("Expected role user, got %s", msg.Role)
	}
}

func TestToolMessageCarriesCallID(t *testing.T) {
	msg := ToolMessage("call_1", "multiply", `{"result": 6}`)
	if msg.Role != RoleTool {
		t.Errorf("Expected role tool, got %s", msg.Role)
	}
	if msg.ToolCallID != "call_1" || msg.ToolName != "multiply" {
		t.Errorf("Expected call id and tool name preserved, got %+v", msg)
	}
}

func TestEventPayloadShape(t *testing.T) {
	ev := DoneEvent(3, 2, StatusSuccess, "final answer")

	data, err := json.Marshal(ev.Payload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meta, ok := decoded["metadata"].(map[string]interface{})
	if !ok {
		t.Fatal("expected metadata object")
	}
	if meta["iterations"].(float64) != 3 {
		t.Errorf("Expected iterations=3, got %v", meta["iterations"])
	}
	if meta["status"] != StatusSuccess {
		t.Errorf("Expected status=success, got %v", meta["status"])
	}
	if decoded["final_text"] != "final answer" {
		t.Errorf("Expected final_text preserved, got %v", decoded["final_text"])
	}
}

func TestTokenEventPayload(t *testing.T) {
	ev := TokenEvent("hello ")
	if ev.Type != EventToken {
		t.Errorf("Expected token type, got %s", ev.Type)
	}

	data, _ := json.Marshal(ev.Payload())
	if string(data) != `{"text":"hello "}` {
		t.Errorf("unexpected payload: %s", data)
	}
}
