package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/rag"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		// Reply out of order to exercise index mapping.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0,1],"index":1},{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("unexpected embeddings %v", got)
	}
	if fp := e.Fingerprint(); fp != "openai:text-embedding-3-small" {
		t.Errorf("Fingerprint = %q", fp)
	}
}

func TestOpenAIEmbedder_AzureAuthAndErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "az-key" {
			t.Errorf("missing api-key header")
		}
		if !strings.Contains(r.URL.RawQuery, "api-version=2025-04-01-preview") {
			t.Errorf("missing api-version in %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL + "/openai", APIKey: "az-key", Model: "emb",
		Azure: true, APIVersion: "2025-04-01-preview",
	})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "invalid key") {
		t.Fatalf("expected invalid key error, got %v", err)
	}
	if !strings.HasPrefix(e.Fingerprint(), "azure:") {
		t.Errorf("Fingerprint = %q", e.Fingerprint())
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	got, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("unexpected embeddings %v", got)
	}

	_, err = e.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Error("expected count mismatch error")
	}
}

type flakyEmbedder struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *flakyEmbedder) Fingerprint() string { return "fake:flaky" }

func TestWithRetry(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		failures  int32
		wantErr   bool
		wantCalls int32
	}{
		{"no failure", 0, false, 1},
		{"one transient failure", 1, false, 2},
		{"persistent failure", 5, true, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inner := &flakyEmbedder{failures: tc.failures}
			e := WithRetry(inner, time.Second)
			_, err := e.Embed(context.Background(), []string{"q"})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if inner.calls.Load() != tc.wantCalls {
				t.Errorf("calls = %d, want %d", inner.calls.Load(), tc.wantCalls)
			}
			if fp := rag.FingerprintOf(e); fp != "fake:flaky" {
				t.Errorf("fingerprint lost through wrapper: %q", fp)
			}
		})
	}
}

func TestNewFromEnv_Backends(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantFP  string
		wantErr bool
	}{
		{"default ollama", map[string]string{}, "ollama:nomic-embed-text", false},
		{"inherits model provider", map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}, "openai:text-embedding-3-small", false},
		{"mistral", map[string]string{"EMBEDDING_PROVIDER": "mistral", "MISTRAL_API_KEY": "k"}, "mistral:mistral-embed", false},
		{"openai missing key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, "", true},
		{"azure missing endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, "", true},
		{"unknown", map[string]string{"EMBEDDING_PROVIDER": "word2vec"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "OPENAI_API_KEY", "MISTRAL_API_KEY",
				"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
				"EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			e, err := NewFromEnv(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil {
				if fp := rag.FingerprintOf(e); fp != tc.wantFP {
					t.Errorf("fingerprint = %q, want %q", fp, tc.wantFP)
				}
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	cases := map[string]int{"ollama": 768, "openai": 1536, "azure": 1536, "mistral": 1024, "gemini": 768}
	for backend, want := range cases {
		if got := DefaultDimensions(backend); got != want {
			t.Errorf("DefaultDimensions(%q) = %d, want %d", backend, got, want)
		}
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "384")
	if got := DefaultDimensions("ollama"); got != 384 {
		t.Errorf("override: got %d, want 384", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"ollama needs nothing", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, false},
		{"gemini without key", map[string]string{"EMBEDDING_PROVIDER": "gemini"}, true},
		{"gemini with key", map[string]string{"EMBEDDING_PROVIDER": "gemini", "GOOGLE_API_KEY": "g"}, false},
		{"mistral without key", map[string]string{"EMBEDDING_PROVIDER": "mistral"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "GOOGLE_API_KEY", "MISTRAL_API_KEY", "EMBEDDING_API_KEY", "EMBEDDING_MODEL"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if err := Validate(logging.Discard()); (err != nil) != tc.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"gpt-4o":                 true,
		"llama3":                 true,
		"nomic-embed-text":       false,
		"mistral-embed":          false,
		"text-embedding-3-small": false,
	}
	for model, want := range cases {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}
