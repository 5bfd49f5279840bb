// Package similarity scores embedding vectors.
//
// Scoring is a linear scan. Callers go through Scorer so an index can later
// replace the scan without changing them.
package similarity

import (
	"math"
	"sort"
)

// Cosine returns dot(a,b) / (|a|*|b|).
// Zero-norm vectors and length mismatches score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Candidate is one vector to be scored. Index is the caller's position for it.
type Candidate struct {
	Index  int
	Vector []float32
}

// Hit is a scored candidate.
type Hit struct {
	Index int
	Score float64
}

// Scorer ranks candidates against a query vector.
type Scorer interface {
	// TopK returns up to k hits ordered by descending score.
	// Equal scores keep candidate order.
	TopK(query []float32, candidates []Candidate, k int) []Hit

	// Best returns the highest scoring candidate; the first wins on exact ties.
	// ok is false when candidates is empty.
	Best(query []float32, candidates []Candidate) (hit Hit, ok bool)
}

// Linear is the brute-force cosine Scorer.
type Linear struct{}

// NewLinear returns the brute-force scorer.
func NewLinear() Linear { return Linear{} }

// TopK implements Scorer.
func (Linear) TopK(query []float32, candidates []Candidate, k int) []Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{Index: c.Index, Score: Cosine(query, c.Vector)}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Best implements Scorer.
func (Linear) Best(query []float32, candidates []Candidate) (Hit, bool) {
	if len(candidates) == 0 {
		return Hit{}, false
	}

	best := Hit{Index: candidates[0].Index, Score: Cosine(query, candidates[0].Vector)}
	for _, c := range candidates[1:] {
		if s := Cosine(query, c.Vector); s > best.Score {
			best = Hit{Index: c.Index, Score: s}
		}
	}
	return best, true
}
