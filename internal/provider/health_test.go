package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	t.Cleanup(ok.Close)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"ollama reachable", &Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: ok.URL + "/", Model: "llama3"}}, false},
		{"ollama error status", &Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: broken.URL, Model: "llama3"}}, true},
		{"ollama unreachable", &Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://127.0.0.1:1", Model: "llama3"}}, true},
		{"mistral configured", &Config{Backend: BackendMistral, Mistral: ProviderMistral{APIKey: "k", Model: "mistral-small-latest"}}, false},
		{"mistral missing key", &Config{Backend: BackendMistral, Mistral: ProviderMistral{Model: "mistral-small-latest"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := HealthCheck(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
