// Package tracing wires optional LLM call tracing into the tutor. Traces are
// exported to Langfuse through eino's global callback handlers, so every
// chat completion issued by the provider package is captured without the
// tutor knowing about it.
package tracing

import (
	"log/slog"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds the Langfuse connection settings.
type Config struct {
	// Host is the Langfuse base URL.
	Host string
	// PublicKey and SecretKey authenticate the exporter.
	PublicKey string
	SecretKey string
	// Name labels every trace. Defaults to "tutor".
	Name string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. It returns ok=false, and nil
// handler and flush, when tracing is not configured.
func Setup(cfg Config) (callbacks.Handler, func(), bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Name == "" {
		cfg.Name = "tutor"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      cfg.Name,
	})
	return handler, flusher, true
}

var installOnce sync.Once

// Install registers the Langfuse handler globally when configured and
// returns the flush function to defer before exit. It is a no-op returning
// a no-op flush when tracing is disabled. Only the first call registers.
func Install(cfg Config, log *slog.Logger) func() {
	handler, flush, ok := Setup(cfg)
	if !ok {
		log.Debug("tracing: langfuse not configured")
		return func() {}
	}
	installOnce.Do(func() {
		callbacks.AppendGlobalHandlers(handler)
	})
	log.Info("tracing: langfuse enabled", slog.String("host", cfg.Host))
	return flush
}
