// Package rag defines the passage store contract used by ingestion and by the
// query workflow: passages, embedders, stores and the retriever that ties an
// embedder to a store. Concrete stores (SQLite, Qdrant) satisfy
// [PassageStore] so callers never depend on a specific backend.
package rag

import (
	"context"
	"errors"
	"time"
)

// ErrEmbeddingModelMismatch is returned when a store holds vectors produced by
// a different embedding model than the one configured for queries. Similarity
// scores across models are meaningless, so the retriever refuses to search.
var ErrEmbeddingModelMismatch = errors.New("rag: embedding model mismatch")

// Passage is a bounded chunk of manual text plus its embedding vector.
type Passage struct {
	// ID is the stable passage identifier (a name-based UUID).
	ID string

	// Ordinal is the passage's position in ingestion order. Ties in similarity
	// are broken by ascending Ordinal.
	Ordinal int

	// Source is the file name the passage was read from.
	Source string

	// Content is the passage text.
	Content string

	// Embedding is the passage vector. Search results may leave it nil.
	Embedding []float32

	// Score is the cosine similarity assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Snapshot is a complete store image written by a single ingestion.
type Snapshot struct {
	// EmbeddingModel identifies the model that produced every vector,
	// e.g. "ollama/all-minilm".
	EmbeddingModel string

	// Dimensions is the vector length shared by every passage.
	Dimensions int

	// Passages is the full passage set in ingestion order.
	Passages []Passage
}

// Stats describes the current contents of a store.
type Stats struct {
	// Passages is the number of stored passages.
	Passages int
	// EmbeddingModel is the model recorded at the last ingestion ("" when empty).
	EmbeddingModel string
	// Dimensions is the stored vector length (0 when empty).
	Dimensions int
	// IngestedAt is when the current contents were written.
	IngestedAt time.Time
}

// PassageStore persists passages and answers nearest-neighbour queries.
// Implementations must be safe to call from multiple goroutines, and a
// concurrent Search must never observe a partially applied Replace.
type PassageStore interface {
	// Replace atomically swaps the store contents for snap.
	Replace(ctx context.Context, snap Snapshot) error

	// Search returns at most k passages ordered by similarity to vec, most
	// similar first, ties broken by ascending Ordinal. An empty store yields
	// an empty result and no error.
	Search(ctx context.Context, vec []float32, k int) ([]Passage, error)

	// Stats reports the passage count and recorded embedding model.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the identity recorded alongside stored vectors,
	// in the form "<provider>/<model>".
	Model() string
}

// Retriever fetches the passages most relevant to a question.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns up to topK passages for the question.
	Retrieve(ctx context.Context, question string, topK int) ([]Passage, error)
}
