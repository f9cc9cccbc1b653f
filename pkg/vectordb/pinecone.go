package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/helicon-ai/helicon/pkg/config"
)

// pineconeStore targets managed Pinecone indexes. Index creation happens
// out of band; EnsureCollection only verifies the index exists.
type pineconeStore struct {
	client *pinecone.Client
	log    *slog.Logger

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection
}

func newPineconeStore(cfg config.VectorStoreConfig, log *slog.Logger) (*pineconeStore, error) {
	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	return &pineconeStore{
		client: client,
		log:    log,
		conns:  make(map[string]*pinecone.IndexConnection),
	}, nil
}

func (s *pineconeStore) indexConnection(ctx context.Context, name string) (*pinecone.IndexConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.conns[name]; ok {
		return conn, nil
	}

	idx, err := s.client.DescribeIndex(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("describe index %q: %w", name, err)
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return nil, fmt.Errorf("connect to index %q: %w", name, err)
	}
	s.conns[name] = conn
	return conn, nil
}

func (s *pineconeStore) EnsureCollection(ctx context.Context, name string) error {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return nil
		}
	}
	return fmt.Errorf("pinecone index %q does not exist; create it via the Pinecone console or API", name)
}

func (s *pineconeStore) UpsertChunks(ctx context.Context, points []Point, collection string) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	points = normalizePoints(points)

	conn, err := s.indexConnection(ctx, collection)
	if err != nil {
		return 0, err
	}

	vectors := make([]*pinecone.Vector, 0, len(points))
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Payload)+1)
		for key, value := range p.Payload {
			fields[key] = value
		}
		fields["tags"] = toInterfaceSlice(p.Tags)

		metadata, err := structpb.NewStruct(fields)
		if err != nil {
			return 0, fmt.Errorf("convert metadata for point %q: %w", p.ID, err)
		}

		vectors = append(vectors, &pinecone.Vector{
			Id:       p.ID,
			Values:   p.Vector,
			Metadata: metadata,
		})
	}

	count, err := conn.UpsertVectors(ctx, vectors)
	if err != nil {
		return 0, fmt.Errorf("upsert %d vectors: %w", len(vectors), err)
	}
	return int(count), nil
}

func (s *pineconeStore) Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]SearchResult, error) {
	effective, err := searchTags(userID, tags)
	if err != nil {
		return nil, err
	}

	conn, err := s.indexConnection(ctx, collection)
	if err != nil {
		return nil, err
	}

	// Conjunction of tag membership tests over the "tags" list field.
	clauses := make([]interface{}, 0, len(effective))
	for _, tag := range effective {
		clauses = append(clauses, map[string]interface{}{
			"tags": map[string]interface{}{"$in": []interface{}{tag}},
		})
	}
	filter, err := structpb.NewStruct(map[string]interface{}{"$and": clauses})
	if err != nil {
		return nil, fmt.Errorf("build metadata filter: %w", err)
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query index %q: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]interface{})
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		text, _ := metadata["text"].(string)
		results = append(results, SearchResult{
			ID:       match.Vector.Id,
			Text:     text,
			Score:    match.Score,
			Metadata: metadata,
		})
	}
	return results, nil
}

func (s *pineconeStore) ListCollections(ctx context.Context) ([]string, error) {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (s *pineconeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = map[string]*pinecone.IndexConnection{}
	return nil
}
