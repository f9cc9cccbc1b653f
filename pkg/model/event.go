package model

import "time"

// EventType names the tagged union of events streamed to callers.
type EventType string

const (
	EventToken EventType = "token"
	EventTool  EventType = "tool"
	EventLog   EventType = "log"
	EventDone  EventType = "done"
)

type ToolStatus string

const (
	ToolStatusStart ToolStatus = "start"
	ToolStatusEnd   ToolStatus = "end"
	ToolStatusError ToolStatus = "error"
)

// Run terminal statuses reported in done metadata.
const (
	StatusSuccess       = "success"
	StatusMaxIterations = "max_iterations"
	StatusError         = "error"
)

type TokenPayload struct {
	Text string `json:"text"`
}

type ToolPayload struct {
	Tool          string                 `json:"tool"`
	Args          map[string]interface{} `json:"args,omitempty"`
	Status        ToolStatus             `json:"status"`
	TS            int64                  `json:"ts"`
	LatencyMS     int64                  `json:"latency_ms,omitempty"`
	ResultPreview string                 `json:"result_preview,omitempty"`
}

type LogPayload struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

type DoneMetadata struct {
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	Status     string `json:"status"`
}

type DonePayload struct {
	Metadata  DoneMetadata `json:"metadata"`
	FinalText string       `json:"final_text"`
}

// Event is the streamed union. Exactly one payload is set, matching Type.
// Thinking traces never appear here.
type Event struct {
	Type  EventType
	Token *TokenPayload
	Tool  *ToolPayload
	Log   *LogPayload
	Done  *DonePayload
}

// Payload returns the populated payload for wire serialization.
func (e Event) Payload() interface{} {
	switch e.Type {
	case EventToken:
		return e.Token
	case EventTool:
		return e.Tool
	case EventLog:
		return e.Log
	case EventDone:
		return e.Done
	}
	return nil
}

func TokenEvent(text string) Event {
	return Event{Type: EventToken, Token: &TokenPayload{Text: text}}
}

func ToolStartEvent(tool string, args map[string]interface{}) Event {
	return Event{Type: EventTool, Tool: &ToolPayload{
		Tool:   tool,
		Args:   args,
		Status: ToolStatusStart,
		TS:     time.Now().UnixMilli(),
	}}
}

func ToolEndEvent(tool string, latency time.Duration, preview string) Event {
	return Event{Type: EventTool, Tool: &ToolPayload{
		Tool:          tool,
		Status:        ToolStatusEnd,
		TS:            time.Now().UnixMilli(),
		LatencyMS:     latency.Milliseconds(),
		ResultPreview: preview,
	}}
}

func ToolErrorEvent(tool string, latency time.Duration, preview string) Event {
	return Event{Type: EventTool, Tool: &ToolPayload{
		Tool:          tool,
		Status:        ToolStatusError,
		TS:            time.Now().UnixMilli(),
		LatencyMS:     latency.Milliseconds(),
		ResultPreview: preview,
	}}
}

func LogEvent(level, msg string) Event {
	return Event{Type: EventLog, Log: &LogPayload{Level: level, Msg: msg}}
}

func DoneEvent(iterations, toolCalls int, status, finalText string) Event {
	return Event{Type: EventDone, Done: &DonePayload{
		Metadata:  DoneMetadata{Iterations: iterations, ToolCalls: toolCalls, Status: status},
		FinalText: finalText,
	}}
}
