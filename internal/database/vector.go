package database

import (
	"cmp"
	"math"
	"slices"

	apperrors "github.com/wipfli/immich/internal/errors"
)

// CosineDistance computes 1 - cosine similarity, in [0, 2].
// Vectors of different length, empty or zero vectors are at the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	// Clamp to [-1, 1] for floating point drift.
	similarity := max(-1, min(1, dot/(math.Sqrt(normA)*math.Sqrt(normB))))
	return 1 - similarity
}

// CheckDimension rejects vectors whose length differs from dim.
func CheckDimension(dim int, vec []float32) error {
	if len(vec) != dim {
		return apperrors.DimensionMismatch(dim, len(vec))
	}
	return nil
}

// CompareMatches orders by distance, then entity id.
func CompareMatches(a, b SearchMatch) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// RankMatches applies the search contract to unordered candidates:
// keep distance <= MaxDistance, sort by CompareMatches, truncate to NumResults.
func RankMatches(candidates []SearchMatch, search EmbeddingSearch) []SearchMatch {
	if search.NumResults <= 0 {
		return []SearchMatch{}
	}

	out := make([]SearchMatch, 0, min(len(candidates), search.NumResults))
	for _, m := range candidates {
		if m.Distance <= search.MaxDistance {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, CompareMatches)

	if len(out) > search.NumResults {
		out = out[:search.NumResults]
	}
	return out
}
