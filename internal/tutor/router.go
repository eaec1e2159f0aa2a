package tutor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/provider"
	"github.com/54b3r/tutor-go/internal/rag"
)

// State is the router's view of whether retrieval can be used.
type State string

const (
	// StateRAGAvailable means the index has chunks and the RAG path is configured.
	StateRAGAvailable State = "rag_available"
	// StateRAGUnavailable means RAG requests are downgraded to basic chat.
	StateRAGUnavailable State = "rag_unavailable"
)

// counter is the part of rag.VectorStore the router needs.
type counter interface {
	Count(ctx context.Context) (int, error)
}

// Router tracks RAG availability and resolves requested modes. The state is
// recomputed by Evaluate; it is never derived from a stale document list.
type Router struct {
	index    counter
	embedder rag.Embedder
	ragLLM   provider.Completer

	mu     sync.RWMutex
	state  State
	reason string
	chunks int
}

// NewRouter returns a Router and evaluates its initial state.
func NewRouter(ctx context.Context, index counter, embedder rag.Embedder, ragLLM provider.Completer) *Router {
	r := &Router{index: index, embedder: embedder, ragLLM: ragLLM, state: StateRAGUnavailable}
	r.Evaluate(ctx)
	return r
}

// Evaluate recomputes the state. RAG is available only when the index holds
// at least one chunk, an embedder exists and a RAG completer is configured.
func (r *Router) Evaluate(ctx context.Context) State {
	n, reason := 0, ""
	switch {
	case r.embedder == nil:
		reason = "no embedding provider configured"
	case r.ragLLM == nil:
		reason = "no language model configured for retrieval answers"
	case r.index == nil:
		reason = "no vector index configured"
	default:
		var err error
		n, err = r.index.Count(ctx)
		switch {
		case err != nil:
			reason = "vector index unreadable: " + err.Error()
			n = 0
		case n == 0:
			reason = "vector index is empty"
		}
	}

	state := StateRAGAvailable
	if reason != "" {
		state = StateRAGUnavailable
	}

	r.mu.Lock()
	changed := state != r.state
	r.state, r.reason, r.chunks = state, reason, n
	r.mu.Unlock()

	if changed {
		logging.FromContext(ctx).Info("router: state changed",
			slog.String("state", string(state)),
			slog.String("reason", reason),
			slog.Int("chunks", n),
		)
	}
	return state
}

// State returns the last evaluated state and the reason RAG is unavailable.
func (r *Router) State() (State, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.reason
}

// Chunks returns the chunk count seen by the last evaluation.
func (r *Router) Chunks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks
}

// Resolve maps a requested mode onto the effective mode. A RAG request while
// RAG is unavailable becomes basic chat and downgraded is true.
func (r *Router) Resolve(requested Mode) (effective Mode, downgraded bool) {
	if requested != ModeRAG {
		return requested, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateRAGAvailable {
		return ModeBasic, true
	}
	return ModeRAG, false
}
