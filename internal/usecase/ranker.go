package usecase

import (
	"math"
	"strings"
	"time"

	"recalld/internal/domain"
)

// RankFunc combines a similarity score and an importance score into a
// single relevance value. Both inputs are in [0,1].
type RankFunc func(similarity, importance float64) float64

// WeightedRank is the default ranking policy: similarity dominates, with
// importance as a secondary signal.
func WeightedRank(similarity, importance float64) float64 {
	return 0.7*similarity + 0.3*importance
}

// DecayFunc maps an age to a multiplier in (0,1].
type DecayFunc func(age time.Duration) float64

// decayFloor keeps very old memories from decaying to zero, so they can
// still win a retrieval on strong similarity.
const decayFloor = 0.05

// ExponentialDecay returns a half-life decay function with a floor.
// A zero or negative halfLife disables decay (always returns 1).
func ExponentialDecay(halfLife time.Duration) DecayFunc {
	return func(age time.Duration) float64 {
		if halfLife <= 0 || age <= 0 {
			return 1
		}
		d := math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
		if d < decayFloor {
			return decayFloor
		}
		return d
	}
}

// HeuristicScorer implements domain.Scorer with a content heuristic:
// the context type sets the base, and longer content earns a small bonus.
type HeuristicScorer struct{}

var typeImportance = map[string]float64{
	"decision":     0.9,
	"error":        0.85,
	"preference":   0.8,
	"fact":         0.7,
	"task":         0.65,
	"conversation": 0.5,
}

// Score implements domain.Scorer.
func (HeuristicScorer) Score(content, contextType string) float64 {
	base, ok := typeImportance[strings.ToLower(contextType)]
	if !ok {
		base = 0.5
	}

	// Substantial content is worth slightly more than a throwaway line.
	if len(content) > 200 {
		base += 0.05
	}

	if base > 1 {
		base = 1
	}
	return base
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}

// Compile-time interface check.
var _ domain.Scorer = HeuristicScorer{}
