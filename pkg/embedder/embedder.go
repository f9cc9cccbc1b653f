// Package embedder turns text into vectors through the configured LLM
// provider, batching and bounding concurrency so bulk ingestion does not
// overwhelm the embedding backend.
package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/helicon-ai/helicon/pkg/llm"
)

const (
	// batchSize is how many texts one worker embeds sequentially.
	batchSize = 32

	// maxInFlight bounds concurrent batches against the backend.
	maxInFlight = 8
)

// Backend is the embedding surface of an LLM provider.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder batches embedding requests over a backend. Safe for concurrent
// use.
type Embedder struct {
	backend Backend
	sem     *semaphore.Weighted
	log     *slog.Logger
}

// New builds an Embedder over an LLM provider.
func New(backend Backend, log *slog.Logger) *Embedder {
	if log == nil {
		log = slog.Default()
	}
	return &Embedder{
		backend: backend,
		sem:     semaphore.NewWeighted(maxInFlight),
		log:     log,
	}
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vec) == 0 {
		e.log.Warn("backend returned empty embedding", "text_len", len(text))
	}
	return vec, nil
}

// EmbedTexts embeds texts in batches, preserving input order. Batches run
// concurrently up to the in-flight bound. An empty input yields an empty
// result; an empty embedding from the backend is kept and logged rather
// than failing the whole batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start := start

		batch := texts[start:end]
		g.Go(func() error {
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			for i, text := range batch {
				vec, err := e.backend.Embed(gctx, text)
				if err != nil {
					return fmt.Errorf("embed text %d: %w", start+i, err)
				}
				if len(vec) == 0 {
					e.log.Warn("backend returned empty embedding", "index", start+i)
				}
				vectors[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

var _ Backend = (llm.Provider)(nil)
