// Package tutor wires the document index, retriever, conversation memory and
// language models into the caller-facing tutor operations. A Service is
// constructed once at startup and shared by the CLI, the HTTP server and the
// documents watcher.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/tutor-go/internal/budget"
	"github.com/54b3r/tutor-go/internal/ingestion"
	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/provider"
	"github.com/54b3r/tutor-go/internal/rag"
)

var (
	// ErrEmptyQuestion is returned in an Answer for a blank question.
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrNoModel is returned in an Answer when no completer is configured.
	ErrNoModel = errors.New("no language model configured")
	// ErrNoEmbedder is returned by IngestAll when no embedder is configured.
	ErrNoEmbedder = errors.New("no embedding provider configured")
	// ErrEmptyAnswer is returned in an Answer when the model replies with
	// nothing but whitespace.
	ErrEmptyAnswer = errors.New("the language model returned an empty answer")
)

// Config holds the tutor's tunables.
type Config struct {
	// DocsDir is the directory scanned for PDF files by IngestAll.
	DocsDir string
	// TopK is the number of chunks retrieved per RAG question. Defaults to 3.
	TopK int
	// MemoryWindow is the number of user/assistant pairs placed in a memory
	// prompt. Defaults to 6.
	MemoryWindow int
	// MemoryEnabled turns conversation memory on.
	MemoryEnabled bool
	// RememberRAG also records RAG answers in memory when MemoryEnabled.
	RememberRAG bool
	// MaxContextTokens bounds the estimated prompt size. Defaults to
	// budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Deps are the collaborators of a Service.
type Deps struct {
	// Index is the vector index. Required.
	Index rag.VectorStore
	// Embedder is used for both ingestion and retrieval. Optional; without it
	// IngestAll fails and RAG is unavailable.
	Embedder rag.Embedder
	// Loader extracts page text. Defaults to ingestion.PDFLoader.
	Loader ingestion.Loader
	// Ingestion configures chunking and the rebuild policy.
	Ingestion *ingestion.Config
	// Chat answers memory and basic questions. Optional; without it those
	// questions fail with ErrNoModel.
	Chat provider.Completer
	// RAG answers retrieval questions. Optional; without it RAG is unavailable.
	RAG provider.Completer
	// Memory is the conversation log. Defaults to an unpersisted log.
	Memory *memory.Conversation
}

// Answer is the result of one question. Text is never empty.
type Answer struct {
	// Text is the trimmed answer, or a readable error description on failure.
	Text string `json:"text"`
	// Sources are the distinct documents of the passages in the prompt.
	Sources []string `json:"sources"`
	// Mode is the mode actually used.
	Mode Mode `json:"mode"`
	// Requested is the mode the caller asked for.
	Requested Mode `json:"requested"`
	// Downgraded is true when RAG was requested but not used.
	Downgraded bool `json:"downgraded"`
	// Err is the cause of a failure answer.
	Err error `json:"-"`
}

// Failed reports whether the answer describes an error.
func (a Answer) Failed() bool {
	return a.Err != nil
}

// Status is a snapshot of the tutor for status surfaces.
type Status struct {
	State         State  `json:"state"`
	Reason        string `json:"reason,omitempty"`
	Chunks        int    `json:"chunks"`
	Turns         int    `json:"turns"`
	Pairs         int    `json:"pairs"`
	MemoryEnabled bool   `json:"memory_enabled"`
	RememberRAG   bool   `json:"remember_rag_answers"`
	Embedder      string `json:"embedder,omitempty"`
	ChatModel     string `json:"chat_model,omitempty"`
	RAGModel      string `json:"rag_model,omitempty"`
	DocsDir       string `json:"docs_dir"`
}

// Service is the tutor. It is safe for concurrent use.
type Service struct {
	cfg      *Config
	index    rag.VectorStore
	embedder rag.Embedder
	pipeline *ingestion.Pipeline
	chat     provider.Completer
	ragLLM   provider.Completer
	memory   *memory.Conversation
	router   *Router
	composer *composer
	now      func() time.Time

	// ingestMu serializes index rebuilds and clears.
	ingestMu sync.Mutex
}

// New constructs a Service. The retriever and the ingestion pipeline share
// deps.Embedder so queries and documents are embedded identically.
func New(ctx context.Context, cfg *Config, deps *Deps) (*Service, error) {
	if deps == nil || deps.Index == nil {
		return nil, fmt.Errorf("tutor: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultTopK
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = memory.DefaultWindow
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}

	conv := deps.Memory
	if conv == nil {
		var err error
		if conv, err = memory.New(ctx, nil); err != nil {
			return nil, err
		}
	}

	s := &Service{
		cfg:      cfg,
		index:    deps.Index,
		embedder: deps.Embedder,
		chat:     deps.Chat,
		ragLLM:   deps.RAG,
		memory:   conv,
		now:      time.Now,
		composer: &composer{topK: cfg.TopK, maxContextTokens: cfg.MaxContextTokens},
	}

	if deps.Embedder != nil {
		pipeline, err := ingestion.NewPipeline(deps.Loader, deps.Embedder, deps.Index, deps.Ingestion)
		if err != nil {
			return nil, fmt.Errorf("tutor: %w", err)
		}
		retriever, err := rag.NewRetriever(deps.Embedder, deps.Index, cfg.TopK)
		if err != nil {
			return nil, fmt.Errorf("tutor: %w", err)
		}
		s.pipeline = pipeline
		s.composer.retriever = retriever
	}

	s.router = NewRouter(ctx, deps.Index, deps.Embedder, deps.RAG)
	return s, nil
}

// Router exposes the mode router.
func (s *Service) Router() *Router {
	return s.router
}

// IngestAll rebuilds the index from every PDF in the documents directory and
// re-evaluates the router. Per-document failures are listed in the report;
// the error is reserved for configuration and index failures.
func (s *Service) IngestAll(ctx context.Context, progress func(msg string)) (*ingestion.Report, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("tutor: ingest: %w", ErrNoEmbedder)
	}
	paths, err := ingestion.ListPDFs(s.cfg.DocsDir)
	if err != nil {
		return nil, fmt.Errorf("tutor: ingest: %w", err)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	report, err := s.pipeline.IngestAll(ctx, paths, progress)
	s.router.Evaluate(ctx)
	if err != nil {
		return report, fmt.Errorf("tutor: ingest: %w", err)
	}
	return report, nil
}

// ClearIndex destroys the current index generation and re-evaluates the router.
func (s *Service) ClearIndex(ctx context.Context) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	err := s.index.Clear(ctx)
	s.router.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("tutor: clear index: %w", err)
	}
	return nil
}

// Ask answers question in the requested mode. It always returns an Answer;
// failures are described in Answer.Text and carried in Answer.Err.
func (s *Service) Ask(ctx context.Context, question string, requested Mode) Answer {
	log := logging.FromContext(ctx)
	question = strings.TrimSpace(question)
	ans := Answer{Requested: requested, Mode: requested}

	if !requested.Valid() {
		return s.fail(ctx, ans, fmt.Errorf("unknown mode %q", requested))
	}
	if question == "" {
		return s.fail(ctx, ans, ErrEmptyQuestion)
	}

	ans.Mode, ans.Downgraded = s.router.Resolve(requested)
	if ans.Downgraded {
		state, reason := s.router.State()
		log.Info("tutor: RAG unavailable, answering without retrieval",
			slog.String("state", string(state)),
			slog.String("reason", reason),
		)
	}

	var (
		p         *prompt
		completer = s.chat
	)
	switch ans.Mode {
	case ModeRAG:
		completer = s.ragLLM
		var err error
		if p, err = s.composer.withContext(ctx, question); err != nil {
			return s.fail(ctx, ans, fmt.Errorf("retrieving passages: %w", err))
		}
		if !p.grounded {
			ans.Mode, ans.Downgraded = ModeBasic, true
			if s.chat != nil {
				completer = s.chat
			}
		}
	case ModeMemory:
		var window []memory.Turn
		if s.cfg.MemoryEnabled {
			window = s.memory.Window(s.cfg.MemoryWindow)
		}
		p = s.composer.withMemory(ctx, question, window)
	default:
		p = s.composer.basic(question)
	}

	if completer == nil {
		return s.fail(ctx, ans, ErrNoModel)
	}
	start := s.now()
	text, err := completer.Complete(ctx, p.messages)
	if err != nil {
		return s.fail(ctx, ans, fmt.Errorf("generating answer: %w", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.fail(ctx, ans, ErrEmptyAnswer)
	}
	ans.Text = text
	ans.Sources = p.sources

	log.Info("tutor: answered",
		slog.String("mode", string(ans.Mode)),
		slog.Bool("downgraded", ans.Downgraded),
		slog.Int("sources", len(ans.Sources)),
		slog.Duration("llm_duration", s.now().Sub(start)),
	)

	if s.shouldRemember(ans.Mode) {
		if err := s.memory.AppendExchange(ctx, question, ans.Text, ans.Sources); err != nil {
			log.Warn("history: failed to persist exchange", slog.Any("error", err))
		}
	}
	return ans
}

// shouldRemember reports whether a successful answer in mode extends memory.
// Basic answers, including downgraded RAG requests, never do.
func (s *Service) shouldRemember(mode Mode) bool {
	if !s.cfg.MemoryEnabled {
		return false
	}
	switch mode {
	case ModeMemory:
		return true
	case ModeRAG:
		return s.cfg.RememberRAG
	}
	return false
}

// fail turns err into a failure Answer.
func (s *Service) fail(ctx context.Context, ans Answer, err error) Answer {
	ans.Err = err
	ans.Sources = nil
	ans.Text = describe(err)
	logging.FromContext(ctx).Error("tutor: question failed",
		slog.String("mode", string(ans.Mode)),
		slog.Any("error", err),
	)
	return ans
}

// describe renders err for a learner.
func describe(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return "Please type a question."
	case errors.Is(err, ErrNoModel):
		return "No language model is configured. Set MODEL_PROVIDER and its credentials, then try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The language model did not respond in time. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled before an answer was produced."
	}
	return "Sorry, an error occurred while answering: " + err.Error()
}

// ClearConversation truncates the conversation log.
func (s *Service) ClearConversation(ctx context.Context) error {
	if err := s.memory.Clear(ctx); err != nil {
		return fmt.Errorf("tutor: %w", err)
	}
	return nil
}

// ConversationTurnCount returns the number of completed user turns.
func (s *Service) ConversationTurnCount() int {
	return s.memory.PairCount()
}

// Conversation returns a copy of the conversation log, oldest first.
func (s *Service) Conversation() []memory.Turn {
	return s.memory.Turns()
}

// Status re-evaluates the router and reports the tutor's state.
func (s *Service) Status(ctx context.Context) Status {
	state := s.router.Evaluate(ctx)
	_, reason := s.router.State()
	return Status{
		State:         state,
		Reason:        reason,
		Chunks:        s.router.Chunks(),
		Turns:         s.memory.Len(),
		Pairs:         s.memory.PairCount(),
		MemoryEnabled: s.cfg.MemoryEnabled,
		RememberRAG:   s.cfg.RememberRAG,
		Embedder:      rag.FingerprintOf(s.embedder),
		ChatModel:     completerName(s.chat),
		RAGModel:      completerName(s.ragLLM),
		DocsDir:       s.cfg.DocsDir,
	}
}

// completerName returns the Name of c when it has one.
func completerName(c provider.Completer) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}
