package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// DefaultTimeout bounds one completion call when LLM_TIMEOUT is unset.
const DefaultTimeout = 60 * time.Second

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendMistral:
		m, err = newMistral(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: %s: %w", cfg.Backend, err)
	}
	return m, nil
}

// NewCompleter builds a ChatCompleter for cfg with the LLM_TIMEOUT policy.
func NewCompleter(ctx context.Context, cfg *Config) (*ChatCompleter, error) {
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewChatCompleter(m, string(cfg.Backend)+":"+cfg.ModelName(), Timeout()), nil
}

// NewRAGFromEnv builds the completer for grounded answers. RAG_MODEL_PROVIDER
// selects a distinct backend; when unset the chat completer is reused.
func NewRAGFromEnv(ctx context.Context, chat *ChatCompleter) (*ChatCompleter, error) {
	backend := os.Getenv("RAG_MODEL_PROVIDER")
	if backend == "" {
		if chat == nil {
			return nil, fmt.Errorf("provider: no RAG completer configured")
		}
		return chat, nil
	}
	return NewCompleter(ctx, ConfigFromEnv(Backend(backend)))
}

// Timeout returns LLM_TIMEOUT, or DefaultTimeout when unset or invalid.
func Timeout() time.Duration {
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}
