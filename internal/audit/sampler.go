// Package audit implements the completeness audit: a sampling-based
// bound on the probability that the discovery pass silently missed a
// qualifying symbol ("rule of three" for zero-event samples, Wilson
// score when misses are observed), plus a post-scan top-gainer recheck.
package audit

import (
	"math"
	"math/rand"
	"sort"
)

// ruleConstant returns k(c) for the three supported confidence levels.
// The rule of three: observing zero events in n samples bounds the true
// rate below k/n at confidence c.
func ruleConstant(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 2.3
	case 0.99:
		return 4.6
	default:
		return 3.0 // 95%
	}
}

func zScore(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 1.645
	case 0.99:
		return 2.576
	default:
		return 1.96 // 95%
	}
}

// RequiredSampleSize returns ceil(k(c) / m): the sample size needed to
// bound the miss rate below m at confidence c when zero misses are found.
// The defaults (m=0.01, c=0.95) give 300.
func RequiredSampleSize(targetMissRate, confidence float64) int {
	if targetMissRate <= 0 {
		return 0
	}
	return int(math.Ceil(ruleConstant(confidence) / targetMissRate))
}

// MissRateBound returns the upper confidence bound on the miss rate given
// sample results. Zero observed misses use the rule of three; otherwise
// the Wilson score upper bound, clamped to 1.0.
func MissRateBound(sampleSize, observedMisses int, confidence float64) float64 {
	if sampleSize <= 0 {
		return 1.0
	}
	n := float64(sampleSize)
	if observedMisses == 0 {
		bound := ruleConstant(confidence) / n
		return math.Min(bound, 1.0)
	}

	pHat := float64(observedMisses) / n
	z := zScore(confidence)
	bound := (pHat + z*z/(2*n) + z*math.Sqrt((pHat*(1-pHat)+z*z/(4*n))/n)) / (1 + z*z/n)
	return math.Min(bound, 1.0)
}

// Sampler draws reproducible samples without replacement. The same seed
// and population always yield the same sample, regardless of the caller's
// map iteration order.
type Sampler struct {
	seed int64
}

func NewSampler(seed int64) *Sampler {
	return &Sampler{seed: seed}
}

// Sample returns n symbols drawn without replacement. The population is
// sorted before shuffling so determinism survives unordered inputs.
func (s *Sampler) Sample(population []string, n int) []string {
	if n <= 0 || len(population) == 0 {
		return nil
	}
	if n > len(population) {
		n = len(population)
	}

	sorted := make([]string, len(population))
	copy(sorted, population)
	sort.Strings(sorted)

	rng := rand.New(rand.NewSource(s.seed))
	rng.Shuffle(len(sorted), func(i, j int) {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	})
	return sorted[:n]
}
