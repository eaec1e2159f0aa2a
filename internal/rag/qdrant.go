package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace scopes deterministic point UUIDs to this application.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tutor-go/chunks"))

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// nextSeq stamps each point with its insertion order for stable ties.
	nextSeq atomic.Int64

	log *slog.Logger
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists with the configured vector size (recreating it when the stored size
// differs), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig, log *slog.Logger) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "tutor-docs"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg, log: log}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	n, err := store.Count(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.nextSeq.Store(int64(n))

	return store, nil
}

// ensureCollection creates the collection if it does not exist and replaces
// it when its vector size is incompatible with the configured embedder.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to read collection %q: %w", s.cfg.Collection, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size == s.cfg.VectorSize {
			return nil
		}
		s.log.Warn("qdrant: collection vector size mismatch, recreating",
			slog.String("collection", s.cfg.Collection),
			slog.Uint64("stored", size),
			slog.Uint64("configured", s.cfg.VectorSize),
		)
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// pointID maps a chunk ID onto the UUID space Qdrant requires.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Add upserts chunks with their embeddings and waits for the write to apply.
func (s *QdrantStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if uint64(len(c.Embedding)) != s.cfg.VectorSize {
			return fmt.Errorf("%w: chunk %s has %d, collection has %d", ErrDimensionMismatch, c.ID, len(c.Embedding), s.cfg.VectorSize)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(chunkPayload(c, s.nextSeq.Add(1))),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

func chunkPayload(c Chunk, seq int64) map[string]any {
	return map[string]any{
		"chunk_id":       c.ID,
		"text":           c.Text,
		"source_id":      c.SourceID,
		"sequence_index": int64(c.SequenceIndex),
		"page":           int64(c.Page),
		"seq":            seq,
	}
}

// chunkFromPayload rebuilds a Chunk and its insertion stamp from a payload.
func chunkFromPayload(p map[string]*qdrant.Value) (Chunk, int64) {
	var c Chunk
	c.ID = p["chunk_id"].GetStringValue()
	c.Text = p["text"].GetStringValue()
	c.SourceID = p["source_id"].GetStringValue()
	c.SequenceIndex = int(p["sequence_index"].GetIntegerValue())
	c.Page = int(p["page"].GetIntegerValue())
	return c, p["seq"].GetIntegerValue()
}

// Search performs a cosine similarity search and returns the top-k results.
// Qdrant does not promise an order among equal scores, so results are
// re-ranked by score and then insertion stamp.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	type stamped struct {
		hit Hit
		seq int64
	}
	ss := make([]stamped, 0, len(results))
	for _, r := range results {
		c, seq := chunkFromPayload(r.GetPayload())
		ss = append(ss, stamped{hit: Hit{Chunk: c, Score: r.GetScore()}, seq: seq})
	}
	// Insertion order first, then a stable sort by score keeps it for ties.
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].seq < ss[j].seq })
	hits := make([]Hit, len(ss))
	for i := range ss {
		hits[i] = ss[i].hit
	}
	return rank(hits, topK), nil
}

// Clear drops and recreates the collection.
func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: clear failed: %w", err)
	}
	s.nextSeq.Store(0)
	return s.ensureCollection(ctx)
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// HealthCheck calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
