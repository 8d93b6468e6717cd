// Package stats computes summary statistics over score arrays.
package stats

import (
	"math"
	"sort"
)

// ScoreStats summarizes a set of scores.
type ScoreStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// RunAggregation summarizes one evaluator's scores for one item across runs.
type RunAggregation struct {
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"stddev"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	P50    float64   `json:"p50"`
	P95    float64   `json:"p95"`
	P99    float64   `json:"p99"`
	Scores []float64 `json:"scores"`
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Percentile returns the p-th percentile (0-100) of an ascending slice,
// interpolating linearly between the closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// Calculate summarizes scores. An empty input yields all zeros.
func Calculate(scores []float64) ScoreStats {
	if len(scores) == 0 {
		return ScoreStats{}
	}

	sorted := sortedCopy(scores)

	return ScoreStats{
		Count:  len(sorted),
		Avg:    Mean(sorted),
		StdDev: StdDev(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    Percentile(sorted, 50),
		P95:    Percentile(sorted, 95),
		P99:    Percentile(sorted, 99),
	}
}

// Aggregate summarizes the scores of repeated runs. Scores keeps run order.
func Aggregate(scores []float64) RunAggregation {
	s := Calculate(scores)

	kept := make([]float64, len(scores))
	copy(kept, scores)

	return RunAggregation{
		Mean:   s.Avg,
		StdDev: s.StdDev,
		Min:    s.Min,
		Max:    s.Max,
		P50:    s.P50,
		P95:    s.P95,
		P99:    s.P99,
		Scores: kept,
	}
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
