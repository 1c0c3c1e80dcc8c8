package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/manualqa-go/internal/assistant"
	"github.com/54b3r/manualqa-go/internal/language"
	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/rag"
	"github.com/54b3r/manualqa-go/internal/version"
)

func TestPrintAnswer_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	st := &assistant.State{Question: "q", Answer: "Tap Recharge.", Language: language.English}
	if err := printAnswer(&buf, st, false); err != nil {
		t.Fatal(err)
	}
	want := "Tap Recharge.\n\nlanguage: English  needs_clarification: false\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrintAnswer_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	st := &assistant.State{
		Question:           "রিচার্জ?",
		Answer:             "দুঃখিত",
		Language:           language.Bangla,
		NeedsClarification: true,
		Outcome:            assistant.OutcomeNoContext,
	}
	if err := printAnswer(&buf, st, true); err != nil {
		t.Fatal(err)
	}
	var got askOutput
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if got.Language != "Bangla" || !got.NeedsClarification || got.Outcome != "no_context" {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestPrintStats(t *testing.T) {
	t.Parallel()

	var empty bytes.Buffer
	if err := printStats(&empty, "sqlite", rag.Stats{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(empty.String(), "no manual ingested") {
		t.Errorf("empty store output: %q", empty.String())
	}

	var full bytes.Buffer
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	err := printStats(&full, "qdrant", rag.Stats{Passages: 42, EmbeddingModel: "ollama/all-minilm", Dimensions: 384, IngestedAt: at})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"qdrant", "42", "ollama/all-minilm", "384", "2025-03-01T10:00:00Z"} {
		if !strings.Contains(full.String(), want) {
			t.Errorf("output missing %q: %q", want, full.String())
		}
	}
}

// Not parallel: mutates the process environment.
func TestOpenStore_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "index.db")
	t.Setenv("STORE_BACKEND", "local")
	t.Setenv("INDEX_PATH", path)

	st, name, err := openStore(context.Background(), logging.Discard())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()
	if name != backendSQLite {
		t.Errorf("name = %q, want %q", name, backendSQLite)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "elasticsearch")
	if _, _, err := openStore(context.Background(), logging.Discard()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MANUALQA_TEST_INT", "42")
	t.Setenv("MANUALQA_TEST_BAD", "forty")
	t.Setenv("MANUALQA_TEST_STR", "")

	if got := getEnvInt("MANUALQA_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("MANUALQA_TEST_BAD", 7); got != 7 {
		t.Errorf("getEnvInt invalid = %d, want fallback 7", got)
	}
	if got := getEnvOrDefault("MANUALQA_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault = %q, want fallback", got)
	}
}

func TestRootCmd_StatusAndVersion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MANUALQA_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STORE_BACKEND", "local")
	t.Setenv("INDEX_PATH", filepath.Join(home, "index.db"))

	run := func(args ...string) string {
		t.Helper()
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(args)
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if out := run("status"); !strings.Contains(out, "passages:  0") {
		t.Errorf("status output: %q", out)
	}
	if out := run("version"); !strings.Contains(out, version.Version) {
		t.Errorf("version output: %q", out)
	}
}

func TestIngestCmd_Validation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	for _, args := range [][]string{
		{"ingest"},
		{"ingest", "--file", "manual.pdf"},
	} {
		root := NewRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(args)
		if err := root.ExecuteContext(context.Background()); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestServeOptions_FromConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MANUALQA_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")
	// Registered so the values the config file projects are undone afterwards.
	t.Setenv("MANUALQA_HOST", "")
	t.Setenv("MANUALQA_PORT", "")
	t.Setenv("MANUALQA_WATCH_DIR", "")

	watchDir := filepath.Join(home, "manuals")
	cfgPath := filepath.Join(home, "config.yaml")
	yaml := "server:\n  host: 0.0.0.0\n  port: 9999\n  watch_dir: " + watchDir + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "version"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}

	serve := NewServeCmd()
	if err := serve.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	opts, err := resolveServeOptions(serve)
	if err != nil {
		t.Fatal(err)
	}
	want := serveOptions{host: "0.0.0.0", port: 9999, watchDir: watchDir}
	if opts != want {
		t.Errorf("options from config file: got %+v, want %+v", opts, want)
	}

	serve = NewServeCmd()
	if err := serve.ParseFlags([]string{"--port", "7000", "--host", "127.0.0.1"}); err != nil {
		t.Fatal(err)
	}
	opts, err = resolveServeOptions(serve)
	if err != nil {
		t.Fatal(err)
	}
	if opts.port != 7000 || opts.host != "127.0.0.1" || opts.watchDir != watchDir {
		t.Errorf("explicit flags must win over the config file: got %+v", opts)
	}
}

func TestServeOptions_Defaults(t *testing.T) {
	t.Setenv("MANUALQA_HOST", "")
	t.Setenv("MANUALQA_PORT", "")
	t.Setenv("MANUALQA_WATCH_DIR", "")

	serve := NewServeCmd()
	if err := serve.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	opts, err := resolveServeOptions(serve)
	if err != nil {
		t.Fatal(err)
	}
	if want := (serveOptions{host: "127.0.0.1", port: 8000}); opts != want {
		t.Errorf("defaults: got %+v, want %+v", opts, want)
	}
}
