package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	tt := map[string]struct {
		scores []float64
		expect ScoreStats
	}{
		"empty": {
			scores: nil,
			expect: ScoreStats{},
		},
		"single value": {
			scores: []float64{0.42},
			expect: ScoreStats{Count: 1, Avg: 0.42, Min: 0.42, Max: 0.42, P50: 0.42, P95: 0.42, P99: 0.42},
		},
		"two values": {
			scores: []float64{1, 0},
			expect: ScoreStats{Count: 2, Avg: 0.5, StdDev: 0.5, Min: 0, Max: 1, P50: 0.5, P95: 0.95, P99: 0.99},
		},
		"five values unsorted": {
			scores: []float64{0.5, 0.1, 0.9, 0.3, 0.7},
			expect: ScoreStats{Count: 5, Avg: 0.5, StdDev: 0.28284271247461906, Min: 0.1, Max: 0.9, P50: 0.5, P95: 0.86, P99: 0.892},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got := Calculate(tc.scores)
			assert.Equal(t, tc.expect.Count, got.Count)
			assert.InDelta(t, tc.expect.Avg, got.Avg, 1e-9)
			assert.InDelta(t, tc.expect.StdDev, got.StdDev, 1e-9)
			assert.InDelta(t, tc.expect.Min, got.Min, 1e-9)
			assert.InDelta(t, tc.expect.Max, got.Max, 1e-9)
			assert.InDelta(t, tc.expect.P50, got.P50, 1e-9)
			assert.InDelta(t, tc.expect.P95, got.P95, 1e-9)
			assert.InDelta(t, tc.expect.P99, got.P99, 1e-9)
		})
	}
}

func TestCalculate_DoesNotReorderInput(t *testing.T) {
	scores := []float64{0.9, 0.1, 0.5}
	Calculate(scores)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, scores)
}

func TestCalculate_PercentilesMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 200 {
		scores := make([]float64, 1+rng.Intn(40))
		for i := range scores {
			scores[i] = rng.Float64()
		}

		s := Calculate(scores)
		assert.LessOrEqual(t, s.Min, s.P50)
		assert.LessOrEqual(t, s.P50, s.P95)
		assert.LessOrEqual(t, s.P95, s.P99)
		assert.LessOrEqual(t, s.P99, s.Max)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	tt := map[string]struct {
		p      float64
		expect float64
	}{
		"zero":         {p: 0, expect: 10},
		"exact rank":   {p: 100.0 / 3, expect: 20},
		"interpolated": {p: 50, expect: 25},
		"hundred":      {p: 100, expect: 40},
		"above range":  {p: 120, expect: 40},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			assert.InDelta(t, tc.expect, Percentile(sorted, tc.p), 1e-9)
		})
	}
}

func TestAggregate(t *testing.T) {
	agg := Aggregate([]float64{0.8, 0.2, 0.5})

	assert.InDelta(t, 0.5, agg.Mean, 1e-9)
	assert.InDelta(t, 0.2, agg.Min, 1e-9)
	assert.InDelta(t, 0.8, agg.Max, 1e-9)
	assert.InDelta(t, 0.5, agg.P50, 1e-9)
	assert.Equal(t, []float64{0.8, 0.2, 0.5}, agg.Scores)

	empty := Aggregate(nil)
	assert.Equal(t, 0.0, empty.Mean)
	assert.Empty(t, empty.Scores)
}
