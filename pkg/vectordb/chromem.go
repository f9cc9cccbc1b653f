package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/helicon-ai/helicon/pkg/config"
)

// tagKeyPrefix encodes tags as individual metadata keys, because chromem
// filters are exact string-equality maps and cannot match inside lists.
const tagKeyPrefix = "tag:"

// chromemStore is the embedded provider: pure Go, in-memory with optional
// gob persistence. Meant for development, tests, and single-node setups.
type chromemStore struct {
	db  *chromem.DB
	log *slog.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection

	// embeddings are always pre-computed; chromem must never embed.
	embeddingFunc chromem.EmbeddingFunc
}

func newChromemStore(cfg config.VectorStoreConfig, log *slog.Logger) (*chromemStore, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, true)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %q: %w", cfg.Path, err)
		}
		log.Info("opened persistent vector store", "path", cfg.Path)
	} else {
		db = chromem.NewDB()
		log.Info("opened in-memory vector store")
	}

	return &chromemStore{
		db:          db,
		log:         log,
		collections: make(map[string]*chromem.Collection),
		embeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("embeddings must be pre-computed")
		},
	}, nil
}

func (s *chromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *chromemStore) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.getCollection(name)
	return err
}

func (s *chromemStore) UpsertChunks(ctx context.Context, points []Point, collection string) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	points = normalizePoints(points)

	col, err := s.getCollection(collection)
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		metadata := make(map[string]string, len(p.Payload)+len(p.Tags))
		text := ""
		for key, value := range p.Payload {
			if key == "text" {
				if str, ok := value.(string); ok {
					text = str
					continue
				}
			}
			metadata[key] = fmt.Sprint(value)
		}
		for _, tag := range p.Tags {
			metadata[tagKeyPrefix+tag] = "true"
		}

		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   text,
			Metadata:  metadata,
			Embedding: p.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("upsert %d documents: %w", len(docs), err)
	}
	return len(docs), nil
}

func (s *chromemStore) Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]SearchResult, error) {
	effective, err := searchTags(userID, tags)
	if err != nil {
		return nil, err
	}

	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	where := make(map[string]string, len(effective))
	for _, tag := range effective {
		where[tagKeyPrefix+tag] = "true"
	}

	matches, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			ID:       m.ID,
			Text:     m.Content,
			Score:    m.Similarity,
			Metadata: fromChromemMetadata(m.Metadata),
		})
	}
	return results, nil
}

func (s *chromemStore) ListCollections(ctx context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *chromemStore) Close() error {
	return nil
}

// fromChromemMetadata reverses the tag-key encoding, rebuilding the tags
// list alongside the plain metadata.
func fromChromemMetadata(metadata map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	var tags []string
	for key, value := range metadata {
		if strings.HasPrefix(key, tagKeyPrefix) {
			tags = append(tags, strings.TrimPrefix(key, tagKeyPrefix))
			continue
		}
		out[key] = value
	}
	if len(tags) > 0 {
		sort.Strings(tags)
		out["tags"] = tags
	}
	return out
}
