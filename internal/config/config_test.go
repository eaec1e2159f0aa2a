package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// unsetForTest clears keys for the duration of the test and restores them after.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestResolveConfigPath_Explicit(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(p, []byte("model:\n  provider: ollama\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := resolveConfigPath(p); got != p {
		t.Errorf("expected %q, got %q", p, got)
	}
	if got := resolveConfigPath(filepath.Join(dir, "missing.yaml")); got != "" {
		t.Errorf("expected empty path for missing explicit file, got %q", got)
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTOR_CONFIG", p)

	if got := resolveConfigPath(""); got != p {
		t.Errorf("expected %q, got %q", p, got)
	}
}

func TestLoad_AppliesYAMLValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	t.Setenv("TUTOR_DOTENV", filepath.Join(dir, "none.env"))

	content := []byte(`
model:
  provider: openai
  rag_provider: mistral
  temperature: 0.2
  mistral:
    model: mistral-small
embedding:
  provider: openai
  model: text-embedding-3-small
index:
  backend: sqlite
  dir: /tmp/tutor-index
ingestion:
  docs_dir: /tmp/docs
  chunk_size: 800
  chunk_overlap: 100
  rebuild_policy: stage
tutor:
  top_k: 4
  memory_window: 6
  memory_enabled: false
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	unsetForTest(t,
		"MODEL_PROVIDER", "RAG_MODEL_PROVIDER", "MODEL_TEMPERATURE", "MISTRAL_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "INDEX_BACKEND", "INDEX_DIR",
		"DOCS_DIR", "CHUNK_SIZE", "CHUNK_OVERLAP", "REBUILD_POLICY",
		"RETRIEVAL_TOP_K", "MEMORY_WINDOW", "MEMORY_ENABLED", "REMEMBER_RAG_ANSWERS",
		"LOG_LEVEL", "LOG_FORMAT",
	)

	got, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != cfgPath {
		t.Errorf("expected loaded path %q, got %q", cfgPath, got)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":     "openai",
		"RAG_MODEL_PROVIDER": "mistral",
		"MODEL_TEMPERATURE":  "0.2",
		"MISTRAL_MODEL":      "mistral-small",
		"EMBEDDING_PROVIDER": "openai",
		"EMBEDDING_MODEL":    "text-embedding-3-small",
		"INDEX_BACKEND":      "sqlite",
		"INDEX_DIR":          "/tmp/tutor-index",
		"DOCS_DIR":           "/tmp/docs",
		"CHUNK_SIZE":         "800",
		"CHUNK_OVERLAP":      "100",
		"REBUILD_POLICY":     "stage",
		"RETRIEVAL_TOP_K":    "4",
		"MEMORY_WINDOW":      "6",
		"MEMORY_ENABLED":     "false",
		"LOG_LEVEL":          "debug",
		"LOG_FORMAT":         "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if _, set := os.LookupEnv("REMEMBER_RAG_ANSWERS"); set {
		t.Error("REMEMBER_RAG_ANSWERS should stay unset when absent from YAML")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	t.Setenv("TUTOR_DOTENV", filepath.Join(dir, "none.env"))

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading, it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "mistral")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "mistral" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "mistral", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	t.Setenv("TUTOR_DOTENV", filepath.Join(dir, "none.env"))

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TUTOR_DOTENV", filepath.Join(dir, "none.env"))

	got, err := Load(filepath.Join(dir, "missing.yaml"), slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected no config path, got %q", got)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("MISTRAL_API_KEY=from-file\nDOCS_DIR=/from/file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTOR_DOTENV", envPath)
	t.Setenv("MISTRAL_API_KEY", "from-env")
	unsetForTest(t, "DOCS_DIR")

	if err := LoadDotEnv(slog.Default()); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	if got := os.Getenv("MISTRAL_API_KEY"); got != "from-env" {
		t.Errorf("MISTRAL_API_KEY: got %q, want %q", got, "from-env")
	}
	if got := os.Getenv("DOCS_DIR"); got != "/from/file" {
		t.Errorf("DOCS_DIR: got %q, want %q", got, "/from/file")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBoolPtrStr(t *testing.T) {
	t.Parallel()
	yes, no := true, false
	if got := boolPtrStr(nil); got != "" {
		t.Errorf("nil: got %q", got)
	}
	if got := boolPtrStr(&yes); got != "true" {
		t.Errorf("true: got %q", got)
	}
	if got := boolPtrStr(&no); got != "false" {
		t.Errorf("false: got %q", got)
	}
}
