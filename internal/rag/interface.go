// Package rag defines the retrieval-augmented generation components: the
// vector index, embedding, and retrieval. Concrete index implementations
// (SQLite, Qdrant) satisfy VectorStore so the tutor layer never depends on a
// specific backend.
package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Chunk is a contiguous span of text extracted from one source document.
// Chunks are immutable once added to an index.
type Chunk struct {
	// ID is the deterministic identifier derived from SourceID and SequenceIndex.
	ID string

	// Text is the raw text content of the chunk.
	Text string

	// SourceID identifies the originating document (its base file name).
	SourceID string

	// SequenceIndex is the chunk's position within its document, starting at 0.
	SequenceIndex int

	// Page is the 1-based PDF page the chunk was cut from.
	Page int

	// Embedding is the dense vector produced at ingestion time.
	Embedding []float32
}

// ChunkID returns the deterministic ID for the chunk at seq within source.
func ChunkID(source string, seq int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, seq)))
	return fmt.Sprintf("%x", sum[:16])
}

// Hit is one search result.
type Hit struct {
	Chunk Chunk

	// Score is the cosine similarity between the query and the chunk.
	Score float32
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Add stores a batch of chunks with their pre-computed embeddings.
	// Every embedding must have the dimensionality of the current generation.
	Add(ctx context.Context, chunks []Chunk) error

	// Search returns at most k hits ordered by non-increasing score.
	// Equal scores keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Clear destroys the current generation. It is irreversible.
	Clear(ctx context.Context) error

	// Count returns the number of chunks in the current generation.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Replacer is implemented by stores that can swap the whole generation in
// one step. Callers fall back to Clear followed by Add otherwise.
type Replacer interface {
	Replace(ctx context.Context, chunks []Chunk) error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Fingerprinter is implemented by embedders that can identify their
// provider and model. Indexes record it to detect a swapped embedder.
type Fingerprinter interface {
	Fingerprint() string
}

// FingerprintOf returns e's fingerprint, or "" when it has none.
func FingerprintOf(e Embedder) string {
	if f, ok := e.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// Retriever fetches the chunks most relevant to a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns at most k hits, highest score first.
	Retrieve(ctx context.Context, query string, k int) ([]Hit, error)
}
