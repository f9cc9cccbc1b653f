package embedder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBackend returns the numeric suffix of "text-N" as a one-element
// vector, so order can be asserted on the output.
type fakeBackend struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	calls    int
	failOn   string
	emptyOn  string
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if text == f.failOn {
		return nil, errors.New("backend down")
	}
	if text == f.emptyOn {
		return []float32{}, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(text, "text-"))
	if err != nil {
		return []float32{0}, nil
	}
	return []float32{float32(n)}, nil
}

func TestEmbedTexts_OrderPreserved(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend, nil)

	// Spans three batches so results come back from concurrent workers.
	texts := make([]string, 70)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vectors, err := e.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != 1 || vec[0] != float32(i) {
			t.Fatalf("vector %d = %v, out of order", i, vec)
		}
	}
	if backend.calls != len(texts) {
		t.Errorf("backend calls = %d, want %d", backend.calls, len(texts))
	}
}

func TestEmbedTexts_Empty(t *testing.T) {
	e := New(&fakeBackend{}, nil)
	vectors, err := e.EmbedTexts(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("got %d vectors, want 0", len(vectors))
	}
}

func TestEmbedTexts_EmptyEmbeddingKept(t *testing.T) {
	backend := &fakeBackend{emptyOn: "text-3"}
	e := New(backend, nil)

	vectors, err := e.EmbedTexts(context.Background(), []string{"text-1", "text-2", "text-3", "text-4"})
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vectors[2]) != 0 {
		t.Errorf("vector 2 = %v, want empty", vectors[2])
	}
	if len(vectors[3]) != 1 || vectors[3][0] != 4 {
		t.Errorf("vector 3 = %v, the batch should have continued", vectors[3])
	}
}

func TestEmbedTexts_BackendErrorFailsRun(t *testing.T) {
	backend := &fakeBackend{failOn: "text-2"}
	e := New(backend, nil)

	_, err := e.EmbedTexts(context.Background(), []string{"text-1", "text-2"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "backend down") {
		t.Errorf("err = %v", err)
	}
}

func TestEmbedTexts_ConcurrencyBounded(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend, nil)

	texts := make([]string, 640)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	if _, err := e.EmbedTexts(context.Background(), texts); err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if peak := atomic.LoadInt32(&backend.peak); peak > maxInFlight {
		t.Errorf("peak in-flight = %d, want <= %d", peak, maxInFlight)
	}
}

func TestEmbedText(t *testing.T) {
	e := New(&fakeBackend{}, nil)
	vec, err := e.EmbedText(context.Background(), "text-7")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(vec) != 1 || vec[0] != 7 {
		t.Errorf("vec = %v", vec)
	}
}
