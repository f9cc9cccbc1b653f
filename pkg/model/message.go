// Package model holds the chat and event types shared across the agent loop,
// the LLM providers, and the HTTP edge.
package model

import (
	"strings"
	"unicode"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// ChatMessage is one in-flight conversation message. Assistant messages may
// carry tool calls; tool messages carry the result text plus the originating
// call id and tool name.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: SanitizeContent(content)}
}

func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: SanitizeContent(content)}
}

func AssistantMessage(content string, calls ...ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(callID, toolName, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// maxContentLen bounds user and system content before it reaches the model.
const maxContentLen = 128 * 1024

// SanitizeContent strips NUL and non-printable control characters (keeping
// newlines and tabs) and caps the length.
func SanitizeContent(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(r)
		case r == 0 || unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if len(out) > maxContentLen {
		out = out[:maxContentLen]
	}
	return out
}
