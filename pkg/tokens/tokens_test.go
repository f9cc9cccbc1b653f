package tokens

import (
	"testing"

	"github.com/helicon-ai/helicon/pkg/model"
)

func TestNewCounter(t *testing.T) {
	tests := []struct {
		name  string
		model string
	}{
		{"known_model", "gpt-4"},
		{"local_model_uses_fallback", "qwen3:8b"},
		{"another_local_model", "llama3.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewCounter(tt.model)
			if err != nil {
				t.Fatalf("NewCounter(%q) error = %v", tt.model, err)
			}
			if counter == nil {
				t.Fatal("NewCounter() returned nil counter")
			}
			if counter.Model() != tt.model {
				t.Errorf("Model() = %v, want %v", counter.Model(), tt.model)
			}
		})
	}
}

func TestCounterCount(t *testing.T) {
	counter, err := NewCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create counter: %v", err)
	}

	if got := counter.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	short := counter.Count("hello")
	long := counter.Count("hello world, this is a longer sentence with more tokens")
	if short <= 0 {
		t.Errorf("Count(\"hello\") = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("longer text should count more tokens: short=%d long=%d", short, long)
	}
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	counter, err := NewCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create counter: %v", err)
	}

	messages := []model.ChatMessage{
		{Role: model.RoleUser, Content: "hi"},
	}

	total := counter.CountMessages(messages)
	content := counter.Count("hi")
	if total <= content {
		t.Errorf("CountMessages should include role overhead: total=%d content=%d", total, content)
	}
}

func TestEstimate(t *testing.T) {
	if got := Estimate("12345678"); got != 2 {
		t.Errorf("Estimate() = %d, want 2", got)
	}
}
