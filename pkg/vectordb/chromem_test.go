package vectordb

import (
	"context"
	"testing"

	"github.com/helicon-ai/helicon/pkg/config"
)

func chromemConfig() config.VectorStoreConfig {
	cfg := config.VectorStoreConfig{
		Provider:   config.VectorProviderChromem,
		Collection: "docs",
		Dimension:  3,
	}
	cfg.SetDefaults()
	return cfg
}

func upsertFixture(t *testing.T, store Store) {
	t.Helper()
	points := []Point{
		{
			ID:      "alpha",
			Vector:  []float32{1, 0, 0},
			Payload: map[string]interface{}{"text": "alpha doc", "mime": "text/plain"},
			Tags:    []string{"user:alice", "project:x"},
		},
		{
			ID:      "beta",
			Vector:  []float32{0.9, 0.1, 0},
			Payload: map[string]interface{}{"text": "beta doc", "mime": "text/plain"},
			Tags:    []string{"user:alice"},
		},
		{
			ID:      "gamma",
			Vector:  []float32{1, 0, 0},
			Payload: map[string]interface{}{"text": "gamma doc", "mime": "text/plain"},
			Tags:    []string{"user:bob"},
		},
	}
	n, err := store.UpsertChunks(context.Background(), points, "docs")
	if err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if n != 3 {
		t.Fatalf("upserted %d points, want 3", n)
	}
}

func TestChromem_SearchFiltersByUser(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(context.Background(), "docs"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	upsertFixture(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, "docs", "alice", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want alice's 2", len(results))
	}
	for _, r := range results {
		if r.ID == "gamma" {
			t.Error("bob's document leaked into alice's results")
		}
	}
	if results[0].ID != "alpha" {
		t.Errorf("top result = %q, want the exact-match alpha", results[0].ID)
	}
	if results[0].Text != "alpha doc" {
		t.Errorf("top result text = %q", results[0].Text)
	}
}

func TestChromem_SearchTagConjunction(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()
	upsertFixture(t, store)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, "docs", "alice", []string{"project:x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "alpha" {
		t.Fatalf("results = %+v, want only alpha (user AND project tag)", results)
	}

	tags, ok := results[0].Metadata["tags"].([]string)
	if !ok {
		t.Fatalf("metadata tags = %#v", results[0].Metadata["tags"])
	}
	if len(tags) != 2 {
		t.Errorf("tags = %v, want both original tags back", tags)
	}
}

func TestChromem_SearchRequiresUser(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()
	upsertFixture(t, store)

	if _, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, "docs", "", nil); err == nil {
		t.Fatal("search without a user id must fail, not run unfiltered")
	}
}

func TestChromem_UpsertSynthesizesIDs(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	points := []Point{{
		Vector:  []float32{0, 1, 0},
		Payload: map[string]interface{}{"text": "anonymous"},
		Tags:    []string{"user:alice"},
	}}
	if _, err := store.UpsertChunks(context.Background(), points, "docs"); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}

	results, err := store.Search(context.Background(), []float32{0, 1, 0}, 1, "docs", "alice", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID == "" {
		t.Fatalf("results = %+v, want one result with a synthesized id", results)
	}
}

func TestChromem_TopKClampedToCollection(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()
	upsertFixture(t, store)

	// topK far beyond the collection size must not error.
	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 500, "docs", "bob", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want bob's single document", len(results))
	}
}

func TestChromem_ListCollections(t *testing.T) {
	store, err := New(chromemConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	for _, name := range []string{"zeta", "docs"} {
		if err := store.EnsureCollection(context.Background(), name); err != nil {
			t.Fatalf("EnsureCollection(%q): %v", name, err)
		}
	}

	names, err := store.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 2 || names[0] != "docs" || names[1] != "zeta" {
		t.Errorf("collections = %v", names)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Provider: "weaviate"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
