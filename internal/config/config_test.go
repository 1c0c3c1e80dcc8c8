package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: openai
  max_tokens: 1024
  temperature: 0.2
  openai:
    model: gpt-4.1-nano
embedding:
  provider: ollama
  model: all-minilm
  dimensions: 384
store:
  backend: qdrant
  index_path: /var/lib/manualqa/index.db
  qdrant:
    host: qdrant.internal
    port: 6334
    collection: retailer-manual
ingestion:
  upload_dir: /tmp/uploads
  chunk_size: 800
  chunk_overlap: 100
assistant:
  app_name: Banglalink Retailer App
  top_k: 3
  generate_timeout: 45s
  bangla_prefix: true
cache:
  redis_addr: localhost:6379
  ttl: 30m
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE", "OPENAI_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"STORE_BACKEND", "INDEX_PATH", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"UPLOAD_DIR", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"APP_NAME", "RETRIEVAL_TOP_K", "GENERATE_TIMEOUT", "BANGLA_ANSWER_PREFIX",
		"REDIS_ADDR", "ANSWER_CACHE_TTL",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":       "openai",
		"MODEL_MAX_TOKENS":     "1024",
		"MODEL_TEMPERATURE":    "0.2",
		"OPENAI_MODEL":         "gpt-4.1-nano",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_MODEL":      "all-minilm",
		"EMBEDDING_DIMENSIONS": "384",
		"STORE_BACKEND":        "qdrant",
		"INDEX_PATH":           "/var/lib/manualqa/index.db",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_COLLECTION":    "retailer-manual",
		"UPLOAD_DIR":           "/tmp/uploads",
		"CHUNK_SIZE":           "800",
		"CHUNK_OVERLAP":        "100",
		"APP_NAME":             "Banglalink Retailer App",
		"RETRIEVAL_TOP_K":      "3",
		"GENERATE_TIMEOUT":     "45s",
		"BANGLA_ANSWER_PREFIX": "true",
		"REDIS_ADDR":           "localhost:6379",
		"ANSWER_CACHE_TTL":     "30m",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
store:
  backend: qdrant
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("STORE_BACKEND", "local")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "openai" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "openai", got)
	}
	if got := os.Getenv("STORE_BACKEND"); got != "local" {
		t.Errorf("STORE_BACKEND: expected env override %q, got %q", "local", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	t.Parallel()

	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded {
		t.Error("expected loaded=false for a missing file")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "OLLAMA_MODEL=llama3\nMANUALQA_DOTENV_PROBE=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OLLAMA_MODEL", "mistral")
	t.Setenv("MANUALQA_DOTENV_PROBE", "")
	os.Unsetenv("MANUALQA_DOTENV_PROBE")

	loaded, err := LoadDotEnv(path)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if !loaded {
		t.Fatal("expected loaded=true")
	}
	if got := os.Getenv("OLLAMA_MODEL"); got != "mistral" {
		t.Errorf("OLLAMA_MODEL: got %q, want existing value %q", got, "mistral")
	}
	if got := os.Getenv("MANUALQA_DOTENV_PROBE"); got != "from-file" {
		t.Errorf("MANUALQA_DOTENV_PROBE: got %q, want %q", got, "from-file")
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
