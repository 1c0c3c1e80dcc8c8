package rag

import (
	"cmp"
	"math"
	"slices"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, or with zero magnitude, score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Rank orders passages by descending Score and then ascending Ordinal, and
// truncates the result to k. The input slice is sorted in place.
func Rank(passages []Passage, k int) []Passage {
	slices.SortStableFunc(passages, func(a, b Passage) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	if k >= 0 && len(passages) > k {
		passages = passages[:k]
	}
	return passages
}
