package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HealthCheck probes the configured backend without spending tokens.
// Ollama is asked for its model list; hosted backends are only checked for
// complete configuration since their APIs have no free probe endpoint.
func HealthCheck(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Backend != BackendOllama {
		return nil
	}

	url := strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: ollama health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: ollama unreachable at %s: %w", cfg.Ollama.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: ollama health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
