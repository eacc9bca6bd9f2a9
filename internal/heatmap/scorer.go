// Package heatmap turns technique usage counts into scored Navigator
// heatmap layers.
package heatmap

import (
	"math"

	"go.uber.org/zap"

	"attackmap/internal/config"
)

// Scorer converts a usage count map into a score map under one of four
// fixed algorithms. Scoring is total: every input key appears in the
// output, and no new keys are introduced.
type Scorer struct {
	algorithm config.Algorithm
	weights   map[string]float64
	logger    *zap.Logger
}

// NewScorer creates a scorer. The weights map is consulted only by the
// weighted algorithm; absent identifiers default to weight 1.0.
func NewScorer(algorithm config.Algorithm, weights map[string]float64, logger *zap.Logger) *Scorer {
	return &Scorer{algorithm: algorithm, weights: weights, logger: logger}
}

// Score applies the configured algorithm. An unrecognized algorithm falls
// back to linear with a warning; it is never fatal.
func (s *Scorer) Score(counts map[string]int) map[string]float64 {
	switch s.algorithm {
	case config.AlgorithmLinear:
		return linearScore(counts)
	case config.AlgorithmLogarithmic:
		return logarithmicScore(counts)
	case config.AlgorithmWeighted:
		return s.weightedScore(counts)
	case config.AlgorithmNormalized:
		return normalizedScore(counts)
	default:
		s.logger.Warn("unknown scoring algorithm, using linear",
			zap.String("algorithm", string(s.algorithm)))
		return linearScore(counts)
	}
}

// linearScore: score = count.
func linearScore(counts map[string]int) map[string]float64 {
	scores := make(map[string]float64, len(counts))
	for id, count := range counts {
		scores[id] = float64(count)
	}
	return scores
}

// logarithmicScore: score = ln(count + 1), compressing high counts while
// staying strictly monotonic.
func logarithmicScore(counts map[string]int) map[string]float64 {
	scores := make(map[string]float64, len(counts))
	for id, count := range counts {
		scores[id] = math.Log(float64(count) + 1)
	}
	return scores
}

// weightedScore: score = count * weight(id), weight defaulting to 1.0.
func (s *Scorer) weightedScore(counts map[string]int) map[string]float64 {
	scores := make(map[string]float64, len(counts))
	for id, count := range counts {
		weight := 1.0
		if w, found := s.weights[id]; found {
			weight = w
		}
		scores[id] = float64(count) * weight
	}
	return scores
}

// normalizedScore: score = count/max(count) * 100. The empty map stays
// empty; an all-zero map scores everything 0.
func normalizedScore(counts map[string]int) map[string]float64 {
	if len(counts) == 0 {
		return map[string]float64{}
	}

	maxCount := 0
	for _, count := range counts {
		if count > maxCount {
			maxCount = count
		}
	}

	scores := make(map[string]float64, len(counts))
	if maxCount == 0 {
		for id := range counts {
			scores[id] = 0.0
		}
		return scores
	}
	for id, count := range counts {
		scores[id] = float64(count) / float64(maxCount) * 100
	}
	return scores
}
