package server

import (
	"context"
	"fmt"

	"github.com/54b3r/tutor-go/internal/provider"
)

// LLMPinger probes a chat backend without spending tokens. It satisfies the
// Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// cfg is the provider configuration the backend was built from.
	cfg *provider.Config
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given provider configuration.
// The readiness label defaults to the backend name.
func NewLLMPinger(cfg *provider.Config, name string) *LLMPinger {
	if name == "" && cfg != nil {
		name = string(cfg.Backend)
	}
	return &LLMPinger{cfg: cfg, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs [provider.HealthCheck] against the backend.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.cfg == nil {
		return fmt.Errorf("no chat model configured")
	}
	if err := provider.HealthCheck(ctx, p.cfg); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// indexCounter is the part of a vector index the readiness probe needs.
type indexCounter interface {
	Count(ctx context.Context) (int, error)
}

// healthChecker is implemented by remote indexes (Qdrant) that expose a
// native health RPC.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexPinger probes the vector index. Remote indexes are asked for their
// health first; every index must then answer a Count.
type IndexPinger struct {
	// index is the vector index to probe.
	index indexCounter
	// name identifies the index in readiness responses (e.g. "qdrant").
	name string
}

// NewIndexPinger constructs an IndexPinger for index.
func NewIndexPinger(index indexCounter, name string) *IndexPinger {
	return &IndexPinger{index: index, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return p.name }

// Ping checks the index is reachable and readable. An empty index is ready.
func (p *IndexPinger) Ping(ctx context.Context) error {
	if hc, ok := p.index.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
	}
	if _, err := p.index.Count(ctx); err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	return nil
}
