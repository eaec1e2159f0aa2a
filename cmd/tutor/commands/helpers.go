package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/tutor-go/internal/embedder"
	"github.com/54b3r/tutor-go/internal/ingestion"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/provider"
	"github.com/54b3r/tutor-go/internal/rag"
	"github.com/54b3r/tutor-go/internal/server"
	"github.com/54b3r/tutor-go/internal/store"
	"github.com/54b3r/tutor-go/internal/tutor"
)

// Defaults for directories that live next to the working directory.
const (
	defaultDocsDir  = "data/docs"
	defaultIndexDir = "data/index"
)

// runtime is the set of long-lived objects a command works with.
type runtime struct {
	svc *tutor.Service
	// history is nil when persistence is disabled or failed to open.
	history *store.SQLiteStore
	// chatCfg is the provider configuration of the chat model, nil when the
	// model could not be initialised.
	chatCfg *provider.Config
	// index and indexName feed the readiness probe.
	index     rag.VectorStore
	indexName string

	closers []func() error
}

// Close releases every resource in reverse order of acquisition.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// pingers returns the readiness probes for the serve command.
func (r *runtime) pingers() []server.Pinger {
	ps := []server.Pinger{server.NewIndexPinger(r.index, r.indexName)}
	if r.chatCfg != nil {
		ps = append(ps, server.NewLLMPinger(r.chatCfg, ""))
	}
	return ps
}

// buildRuntime wires the tutor from the environment. Missing model or
// embedder configuration is not fatal: the tutor reports it per question
// and the router keeps RAG unavailable.
func buildRuntime(ctx context.Context, log *slog.Logger) (*runtime, error) {
	rt := &runtime{}

	var emb rag.Embedder
	if err := embedder.Validate(log); err != nil {
		log.Warn("embedder misconfigured, rag disabled", slog.Any("error", err))
	} else if e, err := embedder.NewFromEnv(ctx); err != nil {
		log.Warn("embedder unavailable, rag disabled", slog.Any("error", err))
	} else {
		emb = e
	}

	index, name, err := openIndex(ctx, emb, log)
	if err != nil {
		return nil, err
	}
	rt.index, rt.indexName = index, name
	rt.closers = append(rt.closers, index.Close)

	chatCfg := provider.ConfigFromEnv("")
	var chat, ragLLM provider.Completer
	cc, err := provider.NewCompleter(ctx, chatCfg)
	if err != nil {
		log.Warn("chat model unavailable", slog.Any("error", err))
	} else {
		chat = cc
		rt.chatCfg = chatCfg
	}
	if rc, err := provider.NewRAGFromEnv(ctx, cc); err != nil {
		log.Warn("rag model unavailable", slog.Any("error", err))
	} else {
		ragLLM = rc
	}

	conv, err := openConversation(ctx, rt, log)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	policy, err := ingestion.ParsePolicy(os.Getenv("REBUILD_POLICY"))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	deps := &tutor.Deps{
		Index:    index,
		Embedder: emb,
		Loader:   ingestion.PDFLoader{},
		Ingestion: &ingestion.Config{
			ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
			ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
			Policy:       policy,
		},
		Chat:   chat,
		RAG:    ragLLM,
		Memory: conv,
	}

	svc, err := tutor.New(ctx, tutorConfigFromEnv(), deps)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialise tutor: %w", err)
	}
	rt.svc = svc
	return rt, nil
}

// openIndex opens the vector index selected by INDEX_BACKEND.
func openIndex(ctx context.Context, emb rag.Embedder, log *slog.Logger) (rag.VectorStore, string, error) {
	backend := strings.ToLower(getEnvOrDefault("INDEX_BACKEND", "sqlite"))
	switch backend {
	case "sqlite":
		dir := getEnvOrDefault("INDEX_DIR", defaultIndexDir)
		idx, err := rag.OpenSQLiteIndex(ctx, dir, rag.FingerprintOf(emb), log)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open index at %s: %w", dir, err)
		}
		return idx, "sqlite", nil

	case "qdrant":
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "tutor-docs"),
			VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		qs, err := rag.NewQdrantStore(ctx, cfg, log)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		return qs, "qdrant", nil
	}
	return nil, "", fmt.Errorf("unknown INDEX_BACKEND %q (valid values: sqlite, qdrant)", backend)
}

// openConversation builds the conversation log, persisted to
// TUTOR_HISTORY_DB unless it is set to "disabled". A store that fails to
// open degrades to an in-memory log.
func openConversation(ctx context.Context, rt *runtime, log *slog.Logger) (*memory.Conversation, error) {
	dbPath := os.Getenv("TUTOR_HISTORY_DB")
	if dbPath == store.Disabled {
		log.Info("history: disabled via TUTOR_HISTORY_DB=disabled")
		return memory.New(ctx, nil)
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return memory.New(ctx, nil)
		}
		dbPath = p
	}

	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return memory.New(ctx, nil)
	}
	rt.history = hs
	rt.closers = append(rt.closers, hs.Close)
	log.Debug("history: store opened", slog.String("path", dbPath))

	return memory.New(ctx, hs.Thread(store.DefaultThread))
}

// tutorConfigFromEnv reads the tutor's tunables.
func tutorConfigFromEnv() *tutor.Config {
	return &tutor.Config{
		DocsDir:          getEnvOrDefault("DOCS_DIR", defaultDocsDir),
		TopK:             getEnvInt("RETRIEVAL_TOP_K", 0),
		MemoryWindow:     getEnvInt("MEMORY_WINDOW", 0),
		MemoryEnabled:    getEnvBool("MEMORY_ENABLED", true),
		RememberRAG:      getEnvBool("REMEMBER_RAG_ANSWERS", true),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
	}
}

// getEnvOrDefault returns the value of key or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns key parsed as an int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvBool returns key parsed as a bool, or fallback when unset or invalid.
func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
