package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/54b3r/manualqa-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testSnapshot builds a 2-dimensional snapshot with the given vectors.
func testSnapshot(vecs ...[]float32) rag.Snapshot {
	snap := rag.Snapshot{EmbeddingModel: "ollama/all-minilm", Dimensions: 2}
	for i, v := range vecs {
		snap.Passages = append(snap.Passages, rag.Passage{
			ID:        string(rune('a' + i)),
			Ordinal:   i,
			Source:    "manual.txt",
			Content:   "passage " + string(rune('a'+i)),
			Embedding: v,
		})
	}
	return snap
}

func Test_Store_EmptySearchReturnsEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want empty result, got %d", len(got))
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Passages != 0 || stats.EmbeddingModel != "" {
		t.Errorf("unexpected stats for empty store: %+v", stats)
	}
}

func Test_Store_ReplaceAndSearch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	snap := testSnapshot(
		[]float32{0, 1},  // a: orthogonal
		[]float32{1, 0},  // b: exact match
		[]float32{1, 1},  // c: 45 degrees
		[]float32{-1, 0}, // d: opposite
	)
	if err := s.Replace(ctx, snap); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("want %d results, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("result %d: want %q, got %q", i, id, got[i].ID)
		}
	}
	if got[0].Embedding != nil {
		t.Error("search results should not carry embeddings")
	}

	stats, _ := s.Stats(ctx)
	if stats.Passages != 4 || stats.EmbeddingModel != "ollama/all-minilm" || stats.Dimensions != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func Test_Store_TiesFollowIngestionOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, testSnapshot(
		[]float32{0, 1},
		[]float32{0, 2},
		[]float32{0, 3},
	)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, []float32{0, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ties must keep ingestion order, got %+v", got)
	}
}

func Test_Store_ReplaceIsFullReplacement(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, testSnapshot([]float32{1, 0}, []float32{0, 1})); err != nil {
		t.Fatal(err)
	}
	if err := s.Replace(ctx, rag.Snapshot{EmbeddingModel: "ollama/all-minilm", Dimensions: 2}); err != nil {
		t.Fatal(err)
	}

	stats, _ := s.Stats(ctx)
	if stats.Passages != 0 {
		t.Errorf("want 0 passages after empty replacement, got %d", stats.Passages)
	}
	got, err := s.Search(ctx, []float32{1, 0}, 3)
	if err != nil || len(got) != 0 {
		t.Errorf("want empty search, got %d results, err=%v", len(got), err)
	}
}

func Test_Store_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	bad := testSnapshot([]float32{1, 0, 0})
	if err := s.Replace(ctx, bad); err == nil {
		t.Fatal("expected error for passage with wrong dimensions")
	}

	if err := s.Replace(ctx, testSnapshot([]float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(ctx, []float32{1, 0, 0}, 1); err == nil {
		t.Error("expected error for query with wrong dimensions")
	}
}

func Test_Store_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index", "index.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Replace(ctx, testSnapshot([]float32{0.5, 0.25}, []float32{-1, 2})); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	stats, _ := reopened.Stats(ctx)
	if stats.Passages != 2 || stats.EmbeddingModel != "ollama/all-minilm" || stats.Dimensions != 2 {
		t.Errorf("stats after reopen: %+v", stats)
	}
	if stats.IngestedAt.IsZero() {
		t.Error("ingested_at was not persisted")
	}
	got, err := reopened.Search(ctx, []float32{0.5, 0.25}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].Content != "passage a" {
		t.Errorf("unexpected result after reopen: %+v", got)
	}
}

func Test_Store_ConcurrentSearchDuringReplace(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := testSnapshot([]float32{1, 0}, []float32{0, 1})
	second := testSnapshot([]float32{1, 0}, []float32{0, 1}, []float32{1, 1})
	if err := s.Replace(ctx, first); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				stats, _ := s.Stats(ctx)
				if stats.Passages != 2 && stats.Passages != 3 {
					t.Errorf("observed partial index with %d passages", stats.Passages)
					return
				}
				if _, err := s.Search(ctx, []float32{1, 0}, 3); err != nil {
					t.Errorf("search: %v", err)
					return
				}
			}
		}()
	}
	for i := range 10 {
		snap := first
		if i%2 == 0 {
			snap = second
		}
		if err := s.Replace(ctx, snap); err != nil {
			t.Fatalf("replace: %v", err)
		}
	}
	wg.Wait()
}

func TestVectorEncoding(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func Test_Store_SeesReplacementFromAnotherHandle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	open := func() *SQLiteStore {
		s, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	serving, ingesting := open(), open()

	if stats, _ := serving.Stats(ctx); stats.Passages != 0 {
		t.Fatalf("fresh index: got %d passages", stats.Passages)
	}

	if err := ingesting.Replace(ctx, testSnapshot([]float32{1, 0})); err != nil {
		t.Fatalf("replace: %v", err)
	}
	stats, err := serving.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Passages != 1 || stats.EmbeddingModel != "ollama/all-minilm" {
		t.Errorf("stats after replacement elsewhere: %+v", stats)
	}
	got, err := serving.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("search after replacement elsewhere: %+v", got)
	}

	if err := ingesting.Replace(ctx, testSnapshot([]float32{0, 1}, []float32{1, 0})); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, err = serving.Search(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("search after second replacement: %+v", got)
	}
}
