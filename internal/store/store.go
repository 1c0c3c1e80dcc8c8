// Package store provides the local, SQLite-backed passage index. Passage text
// and vectors are co-located in one table keyed by passage ID; the embedding
// model that produced the vectors is recorded alongside them.
//
// The whole index is held in memory and queried by brute-force cosine
// similarity. [SQLiteStore.Replace] commits the new contents in a single
// transaction and then swaps the in-memory snapshot, so concurrent searches
// see either the old index or the new one, never a mix. Search and Stats
// compare the committed ingestion stamp with the snapshot's and reload when
// another handle, possibly in another process, has replaced the index.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/manualqa-go/internal/rag"
)

// DefaultPath is the index file used when INDEX_PATH is not set.
const DefaultPath = "manual_index/index.db"

// Keys stored in the index_meta table.
const (
	metaEmbeddingModel = "embedding_model"
	metaDimensions     = "dimensions"
	metaIngestedAt     = "ingested_at"
)

// index is an immutable in-memory image of the database.
type index struct {
	// stamp is the raw ingested_at value the snapshot was read at; "" for a
	// database that was never written.
	stamp    string
	stats    rag.Stats
	passages []rag.Passage
}

// SQLiteStore is a rag.PassageStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// current is the snapshot served to Search and Stats.
	current atomic.Pointer[index]
	// mu orders reloads against Replace so an older image is never
	// published over a newer one.
	mu sync.Mutex
}

var _ rag.PassageStore = (*SQLiteStore)(nil)

// Open opens (or creates) a SQLiteStore at the given path, runs the schema
// migration and loads the persisted index. Use ":memory:" in tests.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("store: could not create %s: %w", dir, err)
			}
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := s.reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS passages (
    id         TEXT    PRIMARY KEY,
    ordinal    INTEGER NOT NULL,
    source     TEXT    NOT NULL,
    content    TEXT    NOT NULL,
    embedding  BLOB    NOT NULL  -- little-endian float32
);
CREATE INDEX IF NOT EXISTS idx_passages_ordinal ON passages (ordinal);
CREATE TABLE IF NOT EXISTS index_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// snapshot returns the published index, reloading it first if the committed
// ingestion stamp differs from the one it was read at.
func (s *SQLiteStore) snapshot(ctx context.Context) (*index, error) {
	stamp, err := committedStamp(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if idx := s.current.Load(); idx != nil && idx.stamp == stamp {
		return idx, nil
	}
	return s.reload(ctx)
}

// reload reads the committed index and publishes it.
func (s *SQLiteStore) reload(ctx context.Context) (*index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	idx, err := load(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.current.Store(idx)
	return idx, nil
}

// querier is the subset of *sql.DB and *sql.Tx used for reads.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// committedStamp reads the ingested_at row, or "" if there is none.
func committedStamp(ctx context.Context, q querier) (string, error) {
	var stamp string
	err := q.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, metaIngestedAt).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read ingestion stamp: %w", err)
	}
	return stamp, nil
}

// load reads every passage and the metadata rows into a fresh index.
func load(ctx context.Context, q querier) (*index, error) {
	meta := map[string]string{}
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return nil, fmt.Errorf("store: load meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: load meta scan: %w", err)
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load meta rows: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT id, ordinal, source, content, embedding FROM passages ORDER BY ordinal ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load passages: %w", err)
	}
	defer rows.Close()

	var passages []rag.Passage
	for rows.Next() {
		var p rag.Passage
		var blob []byte
		if err := rows.Scan(&p.ID, &p.Ordinal, &p.Source, &p.Content, &blob); err != nil {
			return nil, fmt.Errorf("store: load passages scan: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("store: passage %s: %w", p.ID, err)
		}
		p.Embedding = vec
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load passages rows: %w", err)
	}

	idx := &index{stamp: meta[metaIngestedAt], passages: passages}
	if len(passages) > 0 {
		idx.stats.Passages = len(passages)
		idx.stats.EmbeddingModel = meta[metaEmbeddingModel]
		if dims, err := strconv.Atoi(meta[metaDimensions]); err == nil {
			idx.stats.Dimensions = dims
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta[metaIngestedAt]); err == nil {
		idx.stats.IngestedAt = ts
	}
	return idx, nil
}

// Replace writes snap in one transaction, then publishes it to readers.
func (s *SQLiteStore) Replace(ctx context.Context, snap rag.Snapshot) (err error) {
	for i, p := range snap.Passages {
		if len(p.Embedding) != snap.Dimensions {
			return fmt.Errorf("store: passage %d has %d dimensions, snapshot declares %d",
				i, len(p.Embedding), snap.Dimensions)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM passages`); err != nil {
		return fmt.Errorf("store: clear passages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("store: clear meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, ordinal, source, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	passages := make([]rag.Passage, len(snap.Passages))
	for i, p := range snap.Passages {
		if _, err = stmt.ExecContext(ctx, p.ID, p.Ordinal, p.Source, p.Content, encodeVector(p.Embedding)); err != nil {
			return fmt.Errorf("store: insert passage %s: %w", p.ID, err)
		}
		p.Score = 0
		passages[i] = p
	}

	ingestedAt := time.Now().UTC()
	stamp := ingestedAt.Format(time.RFC3339Nano)
	meta := map[string]string{
		metaEmbeddingModel: snap.EmbeddingModel,
		metaDimensions:     strconv.Itoa(snap.Dimensions),
		metaIngestedAt:     stamp,
	}
	for k, v := range meta {
		if _, err = tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("store: write meta %s: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	next := &index{stamp: stamp, passages: passages}
	if len(passages) > 0 {
		next.stats = rag.Stats{
			Passages:       len(passages),
			EmbeddingModel: snap.EmbeddingModel,
			Dimensions:     snap.Dimensions,
			IngestedAt:     ingestedAt,
		}
	} else {
		next.stats = rag.Stats{IngestedAt: ingestedAt}
	}
	s.current.Store(next)
	return nil
}

// Search scores every passage against vec and returns the best k.
func (s *SQLiteStore) Search(ctx context.Context, vec []float32, k int) ([]rag.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	idx, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(idx.passages) == 0 {
		return nil, nil
	}
	if len(vec) != idx.stats.Dimensions {
		return nil, fmt.Errorf("store: query has %d dimensions, index has %d", len(vec), idx.stats.Dimensions)
	}

	scored := make([]rag.Passage, len(idx.passages))
	for i, p := range idx.passages {
		scored[i] = rag.Passage{
			ID:      p.ID,
			Ordinal: p.Ordinal,
			Source:  p.Source,
			Content: p.Content,
			Score:   rag.Cosine(vec, p.Embedding),
		}
	}
	return rag.Rank(scored, k), nil
}

// Stats describes the most recently committed index.
func (s *SQLiteStore) Stats(ctx context.Context) (rag.Stats, error) {
	idx, err := s.snapshot(ctx)
	if err != nil {
		return rag.Stats{}, err
	}
	return idx.stats, nil
}

// Ping checks that the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("embedding blob length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
