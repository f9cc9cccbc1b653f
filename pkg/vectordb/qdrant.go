package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/helicon-ai/helicon/pkg/config"
)

// qdrantStore talks to a Qdrant instance over gRPC. This is the default
// production provider.
type qdrantStore struct {
	client    *qdrant.Client
	dimension int
	timeout   time.Duration
	log       *slog.Logger
}

func newQdrantStore(cfg config.VectorStoreConfig, log *slog.Logger) (*qdrantStore, error) {
	host, port, err := splitGRPCAddr(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", cfg.URL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.APIKey != "" && !isLocalHost(host),
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &qdrantStore{
		client:    client,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		log:       log,
	}, nil
}

// splitGRPCAddr parses "host:port", defaulting the port to 6334.
func splitGRPCAddr(addr string) (string, int, error) {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	if !strings.Contains(addr, ":") {
		return addr, 6334, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (s *qdrantStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *qdrantStore) EnsureCollection(ctx context.Context, name string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", name, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Lost a create race with another process.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create collection %q: %w", name, err)
	}

	s.log.Info("created vector collection", "collection", name, "dimension", s.dimension)
	return nil
}

func (s *qdrantStore) UpsertChunks(ctx context.Context, points []Point, collection string) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	points = normalizePoints(points)

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload)+1)
		for key, value := range p.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return 0, fmt.Errorf("convert payload value %q: %w", key, err)
			}
			payload[key] = val
		}
		tags, err := qdrant.NewValue(toInterfaceSlice(p.Tags))
		if err != nil {
			return 0, fmt.Errorf("convert tags: %w", err)
		}
		payload["tags"] = tags

		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d points: %w", len(qpoints), err)
	}
	return len(qpoints), nil
}

func (s *qdrantStore) Search(ctx context.Context, vector []float32, topK int, collection, userID string, tags []string) ([]SearchResult, error) {
	effective, err := searchTags(userID, tags)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	conditions := make([]*qdrant.Condition, 0, len(effective))
	for _, tag := range effective {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "tags",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: tag},
					},
				},
			},
		})
	}

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         &qdrant.Filter{Must: conditions},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search collection %q: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, SearchResult{
			ID:       pointIDString(point.Id),
			Text:     payloadString(point.Payload, "text"),
			Score:    point.Score,
			Metadata: fromQdrantPayload(point.Payload),
		})
	}
	return results, nil
}

func (s *qdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// fromQdrantPayload flattens a qdrant payload into plain Go values.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		out[key] = fromQdrantValue(value)
	}
	return out
}

func fromQdrantValue(value *qdrant.Value) interface{} {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = fromQdrantValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		return fromQdrantPayload(v.StructValue.Fields)
	default:
		return nil
	}
}
