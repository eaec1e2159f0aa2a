//go:build integration

package rag

import (
	"context"
	"os"
	"testing"

	"github.com/54b3r/tutor-go/internal/logging"
)

// TestQdrantStore_Integration requires a running Qdrant (QDRANT_HOST, default localhost).
// Run with: go test -tags integration ./internal/rag/...
func TestQdrantStore_Integration(t *testing.T) {
	ctx := context.Background()
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	store, err := NewQdrantStore(ctx, &QdrantConfig{
		Host:       host,
		Collection: "tutor-integration-test",
		VectorSize: 2,
	}, logging.Discard())
	if err != nil {
		t.Skipf("qdrant not reachable: %v", err)
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	chunks := []Chunk{
		testChunk("a.pdf", 0, 1, 0),
		testChunk("b.pdf", 0, 1, 0),
		testChunk("b.pdf", 1, 0, 1),
	}
	if err := store.Add(ctx, chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, err := store.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	hits, err := store.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Chunk.SourceID != "a.pdf" || hits[1].Chunk.SourceID != "b.pdf" {
		t.Errorf("unexpected hits: %+v", hits)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("Count after Clear = %d", n)
	}
}
