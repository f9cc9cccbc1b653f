package mcp

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeCallResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    interface{}
		wantErr string
	}{
		{
			name: "single text",
			raw:  `{"content":[{"type":"text","text":"hello"}]}`,
			want: "hello",
		},
		{
			name: "single json",
			raw:  `{"content":[{"type":"json","json":{"n":1}}]}`,
			want: map[string]interface{}{"n": float64(1)},
		},
		{
			name: "multiple text joined",
			raw:  `{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`,
			want: "a\nb",
		},
		{
			name: "mixed content",
			raw:  `{"content":[{"type":"text","text":"a"},{"type":"json","json":2}]}`,
			want: []interface{}{"a", float64(2)},
		},
		{
			name: "empty content",
			raw:  `{"content":[]}`,
			want: "",
		},
		{
			name:    "tool error",
			raw:     `{"content":[{"type":"text","text":"boom"}],"isError":true}`,
			wantErr: "tool failed: boom",
		},
		{
			name:    "tool error without message",
			raw:     `{"content":[],"isError":true}`,
			wantErr: "unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCallResult(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("decodeCallResult() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeCallResult() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodeCallResult() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeListTools(t *testing.T) {
	raw := `{"tools":[{"name":"search","description":"Find things","inputSchema":{"type":"object","properties":{"q":{"type":"string"}}}}]}`

	tools, err := decodeListTools(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("decodeListTools() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("decodeListTools() returned %d tools, want 1", len(tools))
	}
	if tools[0].Name != "search" {
		t.Errorf("Name = %q, want %q", tools[0].Name, "search")
	}
	if tools[0].Description != "Find things" {
		t.Errorf("Description = %q, want %q", tools[0].Description, "Find things")
	}
	if len(tools[0].InputSchema) == 0 {
		t.Error("InputSchema is empty, want raw schema bytes")
	}
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}
	want := "rpc error -32601: Method not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
