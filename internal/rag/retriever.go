package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements the Retriever interface by combining an Embedder
// and a PassageStore. It embeds the question at retrieval time and delegates
// similarity search to the store.
type DefaultRetriever struct {
	// embedder converts question text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store PassageStore

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and PassageStore.
// defaultTopK sets the fallback result count when Retrieve is called with topK=0.
func NewRetriever(embedder Embedder, store PassageStore, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the question and returns the top-k most similar passages.
// If topK is 0 the defaultTopK configured at construction time is used.
//
// An empty store short-circuits to an empty result without calling the
// embedder. A store written by a different embedding model fails with
// [ErrEmbeddingModelMismatch].
func (r *DefaultRetriever) Retrieve(ctx context.Context, question string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	stats, err := r.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: reading store stats failed: %w", err)
	}
	if stats.Passages == 0 {
		return nil, nil
	}
	if want := r.embedder.Model(); stats.EmbeddingModel != want {
		return nil, fmt.Errorf("%w: store was built with %q, queries use %q; re-ingest the manual",
			ErrEmbeddingModelMismatch, stats.EmbeddingModel, want)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for question")
	}

	passages, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return passages, nil
}
