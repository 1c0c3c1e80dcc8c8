package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/manualqa-go/internal/assistant"
	"github.com/54b3r/manualqa-go/internal/cache"
	"github.com/54b3r/manualqa-go/internal/embedder"
	"github.com/54b3r/manualqa-go/internal/generator"
	"github.com/54b3r/manualqa-go/internal/ingestion"
	"github.com/54b3r/manualqa-go/internal/provider"
	"github.com/54b3r/manualqa-go/internal/rag"
	"github.com/54b3r/manualqa-go/internal/relevance"
	"github.com/54b3r/manualqa-go/internal/store"
)

// Store backends accepted by STORE_BACKEND.
const (
	backendLocal  = "local"
	backendSQLite = "sqlite"
	backendQdrant = "qdrant"
)

// managedStore is a passage store that can also be probed and closed.
type managedStore interface {
	rag.PassageStore
	Ping(ctx context.Context) error
	Close() error
}

// openStore opens the passage store selected by STORE_BACKEND and returns it
// with its readiness label.
func openStore(ctx context.Context, log *slog.Logger) (managedStore, string, error) {
	switch backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", backendLocal)); backend {
	case backendLocal, backendSQLite:
		path := getEnvOrDefault("INDEX_PATH", store.DefaultPath)
		s, err := store.Open(ctx, path)
		if err != nil {
			return nil, "", err
		}
		log.Info("passage store ready", slog.String("backend", backendSQLite), slog.String("path", path))
		return s, backendSQLite, nil

	case backendQdrant:
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: os.Getenv("QDRANT_COLLECTION"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		s, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("passage store ready",
			slog.String("backend", backendQdrant),
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return s, backendQdrant, nil

	default:
		return nil, "", fmt.Errorf("unknown STORE_BACKEND %q (valid: %s, %s)", backend, backendLocal, backendQdrant)
	}
}

// buildEmbedder validates the embedding configuration and constructs the
// embedder.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Preflight(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("model", emb.Model()))
	return emb, nil
}

// services is everything a question-answering command needs.
type services struct {
	store       managedStore
	storeName   string
	embedder    rag.Embedder
	pipeline    *ingestion.Pipeline
	chatModel   model.BaseChatModel
	providerCfg *provider.Config
	cache       *cache.RedisCache
	assistant   *assistant.Assistant
}

// openServices wires the store, embedder, ingestion pipeline, chat model,
// optional answer cache and the assistant. Close releases what was opened.
func openServices(ctx context.Context, log *slog.Logger) (svc *services, err error) {
	svc = &services{}
	defer func() {
		if err != nil {
			svc.Close()
			svc = nil
		}
	}()

	svc.store, svc.storeName, err = openStore(ctx, log)
	if err != nil {
		return svc, err
	}
	if svc.embedder, err = buildEmbedder(log); err != nil {
		return svc, err
	}
	if svc.pipeline, err = ingestion.NewPipeline(svc.embedder, svc.store, ingestion.ConfigFromEnv(), log); err != nil {
		return svc, fmt.Errorf("failed to create pipeline: %w", err)
	}

	svc.providerCfg = provider.FromEnv()
	if svc.chatModel, err = provider.New(ctx, svc.providerCfg); err != nil {
		return svc, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised", slog.String("model", svc.providerCfg.ModelName()))

	retriever, err := rag.NewRetriever(svc.embedder, svc.store, 0)
	if err != nil {
		return svc, err
	}

	acfg := &assistant.Config{Filter: relevance.Default(), Retriever: retriever}
	acfg.ApplyEnv()

	acfg.Generator = generator.New(svc.chatModel, &generator.Config{
		AppName:   acfg.AppName,
		ModelName: svc.providerCfg.ModelName(),
	}, log)

	if ccfg := cache.ConfigFromEnv(); ccfg.Enabled() {
		c, cerr := cache.NewRedis(ccfg)
		if cerr != nil {
			return svc, fmt.Errorf("failed to initialise answer cache: %w", cerr)
		}
		svc.cache = c
		acfg.Cache = c
		log.Info("answer cache enabled", slog.String("addr", ccfg.Addr), slog.Duration("ttl", ccfg.TTL))
	}

	if svc.assistant, err = assistant.New(acfg, log); err != nil {
		return svc, err
	}
	return svc, nil
}

// Close releases the store and the cache connection.
func (s *services) Close() {
	if s == nil {
		return
	}
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutdown: close failed", slog.Any("error", err))
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty or not a valid integer.
func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
