// Package similarity converts raw backend scores into the normalized
// relevance used across vector stores: higher is better and never negative.
package similarity

import (
	"math"
	"sort"

	"ragchat/internal/port"
)

// Cosine returns the cosine similarity of a and b, 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FromCosineSimilarity maps s in [-1, 1] to [0, 1].
func FromCosineSimilarity(s float64) float64 {
	return clamp((1 + s) / 2)
}

// FromCosineDistance maps d in [0, 2] to [0, 1].
func FromCosineDistance(d float64) float64 {
	return clamp(1 - d/2)
}

// FromL2Distance maps d in [0, +inf) to (0, 1].
func FromL2Distance(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// FromInnerProduct maps an inner product to [0, +inf).
func FromInnerProduct(p float64) float64 {
	return clamp((1 + p) / 2)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// SortScored orders records by descending score, breaking ties by ID.
func SortScored(records []port.ScoredRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].ID < records[j].ID
	})
}

// TopK sorts records and keeps at most k of them.
func TopK(records []port.ScoredRecord, k int) []port.ScoredRecord {
	SortScored(records)
	if k < len(records) {
		records = records[:k]
	}
	return records
}
