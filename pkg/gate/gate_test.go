package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/stats"
	"github.com/mcpchecker/evalkit/pkg/summary"
)

func itemsWithScores(evaluatorName string, scores ...float64) []*runner.ItemResult {
	items := make([]*runner.ItemResult, len(scores))
	for i, s := range scores {
		items[i] = &runner.ItemResult{
			Index:       i,
			Evaluations: map[string]*evaluator.EvalResult{evaluatorName: {Score: s}},
		}
	}
	return items
}

func TestValidate(t *testing.T) {
	s := &summary.Summary{
		Scores: map[string]stats.ScoreStats{
			"relevance": {Count: 4, Avg: 0.75, Min: 0.5, Max: 1, P50: 0.75, P95: 0.97},
			"toxicity":  {Count: 4, Avg: 0.1, Min: 0, Max: 0.3, P50: 0.05, P95: 0.28},
		},
	}
	items := itemsWithScores("relevance", 0.5, 0.6, 0.9, 1)

	tt := map[string]struct {
		thresholds       Thresholds
		expectPassed     bool
		expectViolations []Violation
		expectSummary    string
	}{
		"no thresholds": {
			thresholds:    Thresholds{},
			expectPassed:  true,
			expectSummary: "All thresholds passed (0 evaluators checked)",
		},
		"avg below floor": {
			thresholds:   Thresholds{"relevance": {Avg: ptr.To(0.8)}},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "relevance", Metric: MetricAvg, Expected: 0.8, Actual: 0.75},
			},
			expectSummary: "1 threshold violation(s) detected",
		},
		"all satisfied": {
			thresholds: Thresholds{
				"relevance": {Avg: ptr.To(0.7), Min: ptr.To(0.5), P50: ptr.To(0.7), P95: ptr.To(0.9)},
				"toxicity":  {Max: ptr.To(0.3)},
			},
			expectPassed:  true,
			expectSummary: "All thresholds passed (2 evaluators checked)",
		},
		"max is a ceiling": {
			thresholds:   Thresholds{"toxicity": {Max: ptr.To(0.2)}},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "toxicity", Metric: MetricMax, Expected: 0.2, Actual: 0.3},
			},
			expectSummary: "1 threshold violation(s) detected",
		},
		"only first failing metric is reported": {
			thresholds:   Thresholds{"relevance": {Avg: ptr.To(0.9), Min: ptr.To(0.9), P95: ptr.To(0.99)}},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "relevance", Metric: MetricAvg, Expected: 0.9, Actual: 0.75},
			},
			expectSummary: "1 threshold violation(s) detected",
		},
		"missing evaluator does not stop validation": {
			thresholds: Thresholds{
				"coherence": {Avg: ptr.To(0.5)},
				"toxicity":  {Max: ptr.To(0.1)},
			},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "coherence", Metric: MetricExistence},
				{Evaluator: "toxicity", Metric: MetricMax, Expected: 0.1, Actual: 0.3},
			},
			expectSummary: "2 threshold violation(s) detected",
		},
		"pass rate with default min score": {
			thresholds:    Thresholds{"relevance": {PassRate: ptr.To(1.0)}},
			expectPassed:  true,
			expectSummary: "All thresholds passed (1 evaluators checked)",
		},
		"pass rate with custom min score": {
			thresholds:   Thresholds{"relevance": {PassRate: ptr.To(0.75), MinScore: ptr.To(0.8)}},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "relevance", Metric: MetricPassRate, Expected: 0.75, Actual: 0.5},
			},
			expectSummary: "1 threshold violation(s) detected",
		},
		"pass rate without item scores": {
			thresholds:   Thresholds{"toxicity": {PassRate: ptr.To(0.1)}},
			expectPassed: false,
			expectViolations: []Violation{
				{Evaluator: "toxicity", Metric: MetricPassRate, Expected: 0.1, Actual: 0},
			},
			expectSummary: "1 threshold violation(s) detected",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			res := Validate(s, items, tc.thresholds)

			assert.Equal(t, tc.expectPassed, res.Passed)
			assert.Equal(t, tc.expectSummary, res.Summary)
			require.Len(t, res.Violations, len(tc.expectViolations))
			for i, want := range tc.expectViolations {
				got := res.Violations[i]
				assert.Equal(t, want.Evaluator, got.Evaluator)
				assert.Equal(t, want.Metric, got.Metric)
				assert.InDelta(t, want.Expected, got.Expected, 1e-9)
				assert.InDelta(t, want.Actual, got.Actual, 1e-9)
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestValidate_IsDeterministic(t *testing.T) {
	s := &summary.Summary{Scores: map[string]stats.ScoreStats{}}
	th := Thresholds{"c": {}, "a": {}, "b": {}}

	for range 10 {
		res := Validate(s, nil, th)
		require.Len(t, res.Violations, 3)
		assert.Equal(t, "a", res.Violations[0].Evaluator)
		assert.Equal(t, "b", res.Violations[1].Evaluator)
		assert.Equal(t, "c", res.Violations[2].Evaluator)
	}
}

func TestPassRate(t *testing.T) {
	items := itemsWithScores("q", 0.2, 0.5, 0.9)
	items = append(items, &runner.ItemResult{Index: 3, Error: "agent timed out after 1s"})

	assert.InDelta(t, 2.0/3, PassRate(items, "q", 0.5), 1e-9)
	assert.InDelta(t, 1.0/3, PassRate(items, "q", 0.6), 1e-9)
	assert.Equal(t, 0.0, PassRate(items, "other", 0.5))
	assert.Equal(t, 0.0, PassRate(nil, "q", 0.5))
}

func TestLoadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relevance:
  avg: 0.8
  passRate: 0.9
  minScore: 0.7
toxicity:
  max: 0.1
`), 0o644))

	th, err := LoadThresholds(path)
	require.NoError(t, err)

	assert.Equal(t, Thresholds{
		"relevance": {Avg: ptr.To(0.8), PassRate: ptr.To(0.9), MinScore: ptr.To(0.7)},
		"toxicity":  {Max: ptr.To(0.1)},
	}, th)

	_, err = LoadThresholds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
