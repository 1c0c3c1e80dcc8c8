// Package ingestion turns an uploaded manual into searchable passages.
//
// A call to [Pipeline.Ingest] validates the file extension, stages the upload
// in a scratch directory, parses it, splits it into overlapping passages,
// embeds them and replaces the passage store with the result. Every step is a
// hard gate: the store is only touched once all passages are embedded.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/manualqa-go/internal/rag"
)

// Ingestion failure classes. Returned errors wrap one of these together with
// the underlying cause; match with errors.Is.
var (
	// ErrUnsupportedFormat means the file extension is not accepted.
	ErrUnsupportedFormat = errors.New("ingestion: unsupported format")
	// ErrParse means the document could not be read as text.
	ErrParse = errors.New("ingestion: parse failed")
	// ErrEmbedding means the embedding backend failed or misbehaved.
	ErrEmbedding = errors.New("ingestion: embedding failed")
	// ErrStoreWrite means the upload or the passage store could not be written.
	ErrStoreWrite = errors.New("ingestion: store write failed")
)

// passageNamespace seeds the name-based passage UUIDs.
var passageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/manualqa-go/passage"))

// Progress is called after each embedding batch with the number of passages
// embedded so far and the total.
type Progress func(done, total int)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// UploadDir is the scratch directory uploads are staged in.
	// Defaults to "uploaded_manuals" if empty.
	UploadDir string

	// ChunkSize is the target passage length in characters.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive passages.
	// Defaults to 200 if zero.
	ChunkOverlap int

	// BatchSize is the number of passages sent per embedding request.
	// Defaults to 32 if zero.
	BatchSize int
}

// ConfigFromEnv reads UPLOAD_DIR, CHUNK_SIZE and CHUNK_OVERLAP.
func ConfigFromEnv() *Config {
	return &Config{
		UploadDir:    os.Getenv("UPLOAD_DIR"),
		ChunkSize:    envInt("CHUNK_SIZE"),
		ChunkOverlap: envInt("CHUNK_OVERLAP"),
	}
}

// Report summarises a completed ingestion.
type Report struct {
	// Source is the base file name that was ingested.
	Source string
	// Characters is the length of the loaded text in runes.
	Characters int
	// Passages is the number of passages written to the store.
	Passages int
	// EmbeddingModel is the model identity recorded with the vectors.
	EmbeddingModel string
	// Duration is the wall time of the ingestion.
	Duration time.Duration
}

// Pipeline orchestrates the validate → stage → parse → split → embed →
// replace flow. Calls to Ingest are serialised.
type Pipeline struct {
	// embedder converts passages into dense vector embeddings.
	embedder rag.Embedder

	// store receives the full replacement snapshot.
	store rag.PassageStore

	// splitter cuts loaded text into passages.
	splitter *Splitter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// log is the structured logger for this pipeline.
	log *slog.Logger

	// mu makes ingestion mutually exclusive with itself.
	mu sync.Mutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.PassageStore, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploaded_manuals"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		log:      log,
	}, nil
}

// UploadDir returns the scratch directory uploads are staged in.
func (p *Pipeline) UploadDir() string {
	return p.cfg.UploadDir
}

// IngestFile reads the manual at path and ingests it under its base name.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress Progress) (*Report, error) {
	name := filepath.Base(path)
	if !IsSupported(name) {
		return nil, unsupported(name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrParse, path, err)
	}
	return p.Ingest(ctx, name, data, progress)
}

// Ingest replaces the passage store with the passages of one manual.
// progress may be nil.
func (p *Pipeline) Ingest(ctx context.Context, filename string, data []byte, progress Progress) (*Report, error) {
	started := time.Now()
	name := filepath.Base(filepath.Clean("/" + filename))

	// 1. Extension allow-list.
	ext := strings.ToLower(filepath.Ext(name))
	load, ok := loaders[ext]
	if !ok {
		return nil, unsupported(name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 2. Stage the upload; the scratch copy never outlives the call.
	staged, err := p.stage(name, data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.log.Warn("ingestion: could not remove staged upload",
				slog.String("path", staged), slog.String("error", rmErr.Error()))
		}
	}()

	// 3. Parse.
	raw, err := os.ReadFile(staged)
	if err != nil {
		return nil, fmt.Errorf("%w: reading staged upload: %w", ErrParse, err)
	}
	text, err := load(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
	}

	// 4. Split.
	chunks := p.splitter.Split(text)
	p.log.Info("ingestion: document split",
		slog.String("source", name),
		slog.Int("characters", len([]rune(text))),
		slog.Int("passages", len(chunks)),
	)

	// 5. Embed.
	snap, err := p.embed(ctx, name, chunks, progress)
	if err != nil {
		return nil, err
	}

	// 6. Replace.
	if err := p.store.Replace(ctx, snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	report := &Report{
		Source:         name,
		Characters:     len([]rune(text)),
		Passages:       len(snap.Passages),
		EmbeddingModel: snap.EmbeddingModel,
		Duration:       time.Since(started),
	}
	p.log.Info("ingestion: store replaced",
		slog.String("source", report.Source),
		slog.Int("passages", report.Passages),
		slog.String("embedding_model", report.EmbeddingModel),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// stage empties the scratch directory and writes the upload into it.
func (p *Pipeline) stage(name string, data []byte) (string, error) {
	dir := p.cfg.UploadDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: creating upload dir %s: %w", ErrStoreWrite, dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: listing upload dir %s: %w", ErrStoreWrite, dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return "", fmt.Errorf("%w: clearing previous upload %s: %w", ErrStoreWrite, e.Name(), err)
		}
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("%w: writing upload %s: %w", ErrStoreWrite, path, err)
	}
	return path, nil
}

// embed computes vectors for every chunk in batches and assembles the snapshot.
func (p *Pipeline) embed(ctx context.Context, source string, chunks []Chunk, progress Progress) (rag.Snapshot, error) {
	snap := rag.Snapshot{
		EmbeddingModel: p.embedder.Model(),
		Passages:       make([]rag.Passage, 0, len(chunks)),
	}

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return rag.Snapshot{}, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		if len(vecs) != len(texts) {
			return rag.Snapshot{}, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbedding, len(texts), len(vecs))
		}

		for i, vec := range vecs {
			if snap.Dimensions == 0 {
				snap.Dimensions = len(vec)
			}
			if len(vec) == 0 || len(vec) != snap.Dimensions {
				return rag.Snapshot{}, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
					ErrEmbedding, start+i, len(vec), snap.Dimensions)
			}
			ordinal := start + i
			snap.Passages = append(snap.Passages, rag.Passage{
				ID:        passageID(source, ordinal, texts[i]),
				Ordinal:   ordinal,
				Source:    source,
				Content:   texts[i],
				Embedding: vec,
			})
		}

		if progress != nil {
			progress(end, len(chunks))
		}
	}

	return snap, nil
}

// passageID derives a stable UUID from the passage's source, position and text.
func passageID(source string, ordinal int, content string) string {
	name := source + "\x00" + strconv.Itoa(ordinal) + "\x00" + content
	return uuid.NewSHA1(passageNamespace, []byte(name)).String()
}

// unsupported builds the ErrUnsupportedFormat error for name.
func unsupported(name string) error {
	return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFormat, name, strings.Join(SupportedExtensions(), ", "))
}

// envInt parses an integer env var, returning 0 when unset or invalid.
func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
