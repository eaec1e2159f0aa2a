package embedder

import (
	"context"
	"time"

	"github.com/54b3r/tutor-go/internal/rag"
	"github.com/54b3r/tutor-go/internal/retry"
)

// retrying bounds every Embed call with a timeout and retries it once.
type retrying struct {
	next   rag.Embedder
	policy retry.Policy
}

// WithRetry wraps e so each call gets its own timeout and at most one retry.
// The wrapper keeps e's fingerprint.
func WithRetry(e rag.Embedder, timeout time.Duration) rag.Embedder {
	return &retrying{next: e, policy: retry.Once(timeout)}
}

func (r *retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Do(ctx, r.policy, "embed", func(ctx context.Context) ([][]float32, error) {
		return r.next.Embed(ctx, texts)
	})
}

func (r *retrying) Fingerprint() string {
	return rag.FingerprintOf(r.next)
}
