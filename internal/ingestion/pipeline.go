// Package ingestion implements the document ingestion pipeline.
// It loads PDF files page by page, splits the text into overlapping chunks,
// embeds each chunk, and writes the results into the vector index.
// This pipeline is invoked by `tutor ingest`, the HTTP API and the
// documents watcher.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/rag"
)

// RebuildPolicy selects how IngestAll treats the previous index generation.
type RebuildPolicy string

const (
	// PolicyReplace clears the index first, then adds each document in turn.
	// A batch where every document fails leaves the index empty.
	PolicyReplace RebuildPolicy = "replace"
	// PolicyStage prepares every document before touching the index and
	// swaps generations only when at least one chunk was produced.
	PolicyStage RebuildPolicy = "stage"
)

// ParsePolicy maps a configuration value onto a RebuildPolicy.
func ParsePolicy(s string) (RebuildPolicy, error) {
	switch RebuildPolicy(s) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyStage:
		return PolicyStage, nil
	}
	return "", fmt.Errorf("ingestion: unknown rebuild policy %q (valid values: replace, stage)", s)
}

// DefaultEmbedBatchSize is the number of chunks sent per embedding call.
const DefaultEmbedBatchSize = 64

// ErrNoChunks marks a document that produced no extractable text.
var ErrNoChunks = errors.New("no extractable text")

// ErrIndexWrite marks a failure to write prepared chunks to the index. It
// aborts a rebuild, unlike per-document failures.
var ErrIndexWrite = errors.New("index write failed")

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to 200 if zero; a negative value disables overlap.
	ChunkOverlap int

	// EmbedBatchSize caps the texts sent per embedding call. Defaults to 64.
	EmbedBatchSize int

	// Policy selects the rebuild behaviour of IngestAll.
	Policy RebuildPolicy
}

// Failure records why one document was skipped.
type Failure struct {
	Document string `json:"document"`
	Reason   string `json:"reason"`
}

// Report summarises one IngestAll run.
type Report struct {
	// Total is the number of documents attempted.
	Total int `json:"total"`
	// Succeeded is the number of documents that contributed at least one chunk.
	Succeeded int `json:"succeeded"`
	// Chunks is the number of chunks written to the index.
	Chunks int `json:"chunks"`
	// Failures lists skipped documents in input order.
	Failures []Failure `json:"failures,omitempty"`
	// Policy is the rebuild policy that was applied.
	Policy RebuildPolicy `json:"policy"`
	// KeptPrevious is true when a staged run left the prior generation live.
	KeptPrevious bool `json:"kept_previous,omitempty"`
}

// OK reports overall success: at least one document contributed a chunk.
func (r *Report) OK() bool {
	return r.Succeeded > 0
}

// Pipeline orchestrates the load → split → embed → add flow for a set of
// documents.
type Pipeline struct {
	// loader extracts page text from documents.
	loader Loader

	// splitter cuts page text into chunks.
	splitter *Splitter

	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// A nil loader selects PDFLoader.
func NewPipeline(loader Loader, embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if loader == nil {
		loader = PDFLoader{}
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReplace
	}
	splitter := NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	cfg.ChunkOverlap = splitter.Overlap

	return &Pipeline{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}, nil
}

// Prepare loads, splits and embeds one document without touching the index.
// Sequence indexes run across the whole document starting at 0.
func (p *Pipeline) Prepare(ctx context.Context, path string) ([]rag.Chunk, error) {
	pages, err := p.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	source := filepath.Base(path)
	var chunks []rag.Chunk
	for _, page := range pages {
		for _, text := range p.splitter.Split(page.Text) {
			seq := len(chunks)
			chunks = append(chunks, rag.Chunk{
				ID:            rag.ChunkID(source, seq),
				Text:          text,
				SourceID:      source,
				SequenceIndex: seq,
				Page:          page.Number,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		end := min(start+p.cfg.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding failed: expected %d vectors, got %d", len(texts), len(vecs))
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
	}
	return chunks, nil
}

// Ingest prepares one document and adds its chunks to the current generation.
// It returns the number of chunks written. Nothing is written when the
// document fails to load, split or embed.
func (p *Pipeline) Ingest(ctx context.Context, path string) (int, error) {
	chunks, err := p.Prepare(ctx, path)
	if err != nil {
		return 0, err
	}
	if err := p.store.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("ingestion: add %s: %w: %w", filepath.Base(path), ErrIndexWrite, err)
	}
	return len(chunks), nil
}

// IngestAll rebuilds the index from paths under the configured policy.
// Documents that fail to load, yield no text, or fail to embed are skipped
// and listed in the report. The returned error is reserved for index
// failures; progress is reported via the optional progress callback.
func (p *Pipeline) IngestAll(ctx context.Context, paths []string, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)
	report := &Report{Total: len(paths), Policy: p.cfg.Policy}

	switch p.cfg.Policy {
	case PolicyStage:
		var staged []rag.Chunk
		for _, path := range paths {
			chunks, ok := p.prepareOne(ctx, path, report, progress)
			if !ok {
				continue
			}
			staged = append(staged, chunks...)
			report.Succeeded++
		}
		if len(staged) == 0 {
			report.KeptPrevious = true
			log.Warn("ingestion: no usable chunks, keeping previous index generation",
				slog.Int("documents", report.Total),
			)
			progress("no usable chunks; previous index kept")
			return report, nil
		}
		if err := p.replace(ctx, staged); err != nil {
			return report, err
		}
		report.Chunks = len(staged)

	default:
		if err := p.store.Clear(ctx); err != nil {
			return report, fmt.Errorf("ingestion: clear index: %w", err)
		}
		for _, path := range paths {
			name := filepath.Base(path)
			progress(fmt.Sprintf("loading %s", name))
			n, err := p.Ingest(ctx, path)
			if errors.Is(err, ErrIndexWrite) {
				return report, err
			}
			if err != nil {
				p.skip(ctx, name, err, report, progress)
				continue
			}
			progress(fmt.Sprintf("indexed %d chunks from %s", n, name))
			report.Succeeded++
			report.Chunks += n
		}
	}

	log.Info("ingestion: run complete",
		slog.String("policy", string(report.Policy)),
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("chunks", report.Chunks),
	)
	return report, nil
}

// prepareOne runs Prepare and records a failure in report when it fails.
func (p *Pipeline) prepareOne(ctx context.Context, path string, report *Report, progress func(string)) ([]rag.Chunk, bool) {
	name := filepath.Base(path)
	progress(fmt.Sprintf("loading %s", name))

	chunks, err := p.Prepare(ctx, path)
	if err != nil {
		p.skip(ctx, name, err, report, progress)
		return nil, false
	}
	progress(fmt.Sprintf("prepared %d chunks from %s", len(chunks), name))
	return chunks, true
}

// skip records a per-document failure in report.
func (p *Pipeline) skip(ctx context.Context, name string, err error, report *Report, progress func(string)) {
	report.Failures = append(report.Failures, Failure{Document: name, Reason: err.Error()})
	logging.FromContext(ctx).Warn("ingestion: skipping document",
		slog.String("document", name),
		slog.String("reason", err.Error()),
	)
	progress(fmt.Sprintf("skipped %s: %v", name, err))
}

// replace swaps the generation atomically when the store supports it.
func (p *Pipeline) replace(ctx context.Context, chunks []rag.Chunk) error {
	if r, ok := p.store.(rag.Replacer); ok {
		if err := r.Replace(ctx, chunks); err != nil {
			return fmt.Errorf("ingestion: replace index: %w", err)
		}
		return nil
	}
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("ingestion: clear index: %w", err)
	}
	if err := p.store.Add(ctx, chunks); err != nil {
		return fmt.Errorf("ingestion: add chunks: %w", err)
	}
	return nil
}
