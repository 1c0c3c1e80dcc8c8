package rag

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// fakeEmbedder returns a fixed vector and counts calls.
type fakeEmbedder struct {
	model string
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return f.model }

// fakeStore serves a fixed passage list and stats.
type fakeStore struct {
	stats    Stats
	passages []Passage
	gotK     int
}

func (f *fakeStore) Replace(context.Context, Snapshot) error { return nil }

func (f *fakeStore) Search(_ context.Context, _ []float32, k int) ([]Passage, error) {
	f.gotK = k
	return f.passages, nil
}

func (f *fakeStore) Stats(context.Context) (Stats, error) { return f.stats, nil }

func (f *fakeStore) Close() error { return nil }

func TestCosine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Cosine(tc.a, tc.b)
			if math.Abs(float64(got-tc.want)) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRank_TiesBrokenByOrdinal(t *testing.T) {
	t.Parallel()
	in := []Passage{
		{ID: "c", Ordinal: 2, Score: 0.5},
		{ID: "a", Ordinal: 0, Score: 0.5},
		{ID: "d", Ordinal: 3, Score: 0.9},
		{ID: "b", Ordinal: 1, Score: 0.5},
	}
	got := Rank(in, 3)
	want := []string{"d", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d passages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestNewRetriever_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewRetriever(nil, &fakeStore{}, 3); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, 3); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestRetrieve_EmptyStoreSkipsEmbedding(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{model: "ollama/all-minilm", err: errors.New("embedder offline")}
	r, err := NewRetriever(emb, &fakeStore{}, 3)
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Retrieve(context.Background(), "How do I register a device?", 3)
	if err != nil {
		t.Fatalf("empty store must not fail, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d passages", len(got))
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for an empty store", emb.calls)
	}
}

func TestRetrieve_ModelMismatch(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{model: "openai/text-embedding-3-small", vec: []float32{1}}
	store := &fakeStore{stats: Stats{Passages: 4, EmbeddingModel: "ollama/all-minilm", Dimensions: 1}}
	r, _ := NewRetriever(emb, store, 3)

	_, err := r.Retrieve(context.Background(), "login help", 3)
	if !errors.Is(err, ErrEmbeddingModelMismatch) {
		t.Fatalf("expected ErrEmbeddingModelMismatch, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called when the model does not match")
	}
}

func TestRetrieve_EmbedsAndSearches(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{model: "ollama/all-minilm", vec: []float32{1, 0}}
	store := &fakeStore{
		stats:    Stats{Passages: 2, EmbeddingModel: "ollama/all-minilm", Dimensions: 2, IngestedAt: time.Now()},
		passages: []Passage{{ID: "p1", Content: "Open the dashboard."}},
	}
	r, _ := NewRetriever(emb, store, 3)

	got, err := r.Retrieve(context.Background(), "dashboard", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("unexpected passages: %+v", got)
	}
	if store.gotK != 3 {
		t.Errorf("topK=0 should fall back to default 3, store saw %d", store.gotK)
	}
	if emb.calls != 1 {
		t.Errorf("expected 1 embed call, got %d", emb.calls)
	}
}

func TestRetrieve_EmbedderError(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{model: "m", err: errors.New("connection refused")}
	store := &fakeStore{stats: Stats{Passages: 1, EmbeddingModel: "m", Dimensions: 1}}
	r, _ := NewRetriever(emb, store, 3)

	if _, err := r.Retrieve(context.Background(), "profile", 3); err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}
