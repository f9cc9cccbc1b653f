// Package vectordb adapts external vector databases behind one Store
// interface: collection lifecycle, bulk upsert of embedded chunks, and
// similarity search filtered by per-user access tags.
//
// The adapter is the trust boundary for multi-user retrieval: every search
// requires a user id and applies it server-side as a `user:<id>` tag filter
// together with any caller-supplied tags (logical AND).
package vectordb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/helicon-ai/helicon/pkg/config"
)

// UserTagPrefix marks the access-control tag carried on every point.
const UserTagPrefix = "user:"

// Point is one embedded chunk ready for upsert. Payload carries the chunk
// text under "text" plus the pruned chunk metadata; Tags carry access and
// retrieval labels.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
	Tags    []string
}

// SearchResult is one similarity match.
type SearchResult struct {
	ID       string
	Text     string
	Score    float32
	Metadata map[string]interface{}
}

// Store is the vector database surface used by ingestion and search.
type Store interface {
	// EnsureCollection creates the collection if it does not exist, sized
	// to the configured embedding dimension with cosine distance.
	EnsureCollection(ctx context.Context, name string) error

	// UpsertChunks writes points in one call and returns how many were
	// stored. Points without an id get a synthesized uuid.
	UpsertChunks(ctx context.Context, points []Point, collection string) (int, error)

	// Search returns the topK nearest points visible to userID. All tags
	// must match. An empty userID is an error, never an unfiltered query.
	Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]SearchResult, error)

	// ListCollections names the existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	Close() error
}

// New builds the configured provider.
func New(cfg config.VectorStoreConfig, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Provider {
	case config.VectorProviderQdrant, "":
		return newQdrantStore(cfg, log)
	case config.VectorProviderChromem:
		return newChromemStore(cfg, log)
	case config.VectorProviderPinecone:
		return newPineconeStore(cfg, log)
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", cfg.Provider)
	}
}

// searchTags is the effective filter for one query: the caller's tags plus
// the mandatory user tag.
func searchTags(userID string, tags []string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("vector search requires a user id")
	}
	out := make([]string, 0, len(tags)+1)
	out = append(out, UserTagPrefix+userID)
	out = append(out, tags...)
	return out, nil
}

// normalizePoints fills in missing point ids.
func normalizePoints(points []Point) []Point {
	for i := range points {
		if points[i].ID == "" {
			points[i].ID = uuid.NewString()
		}
	}
	return points
}
