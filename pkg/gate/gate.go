// Package gate checks experiment results against pass/fail thresholds.
package gate

import (
	"fmt"
	"os"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/stats"
	"github.com/mcpchecker/evalkit/pkg/summary"
)

const (
	DefaultMinScore = 0.5

	MetricExistence = "existence"
	MetricAvg       = "avg"
	MetricMin       = "min"
	MetricMax       = "max"
	MetricP50       = "p50"
	MetricP95       = "p95"
	MetricPassRate  = "passRate"
)

// Threshold bounds one evaluator. Unset fields are not checked. Max is a
// ceiling, every other metric is a floor.
type Threshold struct {
	Avg      *float64 `json:"avg,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	P50      *float64 `json:"p50,omitempty"`
	P95      *float64 `json:"p95,omitempty"`
	PassRate *float64 `json:"passRate,omitempty"`
	// MinScore is the per-item score counted as a pass (default 0.5)
	MinScore *float64 `json:"minScore,omitempty"`
}

// Thresholds maps evaluator names to their bounds.
type Thresholds map[string]Threshold

type Violation struct {
	Evaluator string  `json:"evaluator"`
	Metric    string  `json:"metric"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Message   string  `json:"message"`
}

type Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
	Summary    string      `json:"summary"`
}

// Validate checks s and items against thresholds. Evaluators are visited in
// name order and each contributes at most one violation: the first failing
// metric in the order avg, min, max, p50, p95, passRate.
func Validate(s *summary.Summary, items []*runner.ItemResult, thresholds Thresholds) *Result {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	res := &Result{Violations: []Violation{}}
	for _, name := range names {
		if v := check(s, items, name, thresholds[name]); v != nil {
			res.Violations = append(res.Violations, *v)
		}
	}

	res.Passed = len(res.Violations) == 0
	if res.Passed {
		res.Summary = fmt.Sprintf("All thresholds passed (%d evaluators checked)", len(names))
	} else {
		res.Summary = fmt.Sprintf("%d threshold violation(s) detected", len(res.Violations))
	}

	return res
}

type bound struct {
	metric  string
	limit   *float64
	actual  float64
	ceiling bool
}

func check(s *summary.Summary, items []*runner.ItemResult, name string, th Threshold) *Violation {
	var scores stats.ScoreStats
	var ok bool
	if s != nil {
		scores, ok = s.Scores[name]
	}
	if !ok {
		return &Violation{
			Evaluator: name,
			Metric:    MetricExistence,
			Message:   fmt.Sprintf("evaluator '%s' not found in results", name),
		}
	}

	bounds := []bound{
		{metric: MetricAvg, limit: th.Avg, actual: scores.Avg},
		{metric: MetricMin, limit: th.Min, actual: scores.Min},
		{metric: MetricMax, limit: th.Max, actual: scores.Max, ceiling: true},
		{metric: MetricP50, limit: th.P50, actual: scores.P50},
		{metric: MetricP95, limit: th.P95, actual: scores.P95},
	}
	for _, b := range bounds {
		if b.limit == nil {
			continue
		}
		if b.ceiling && b.actual > *b.limit {
			return &Violation{
				Evaluator: name,
				Metric:    b.metric,
				Expected:  *b.limit,
				Actual:    b.actual,
				Message:   fmt.Sprintf("%s %s %.3f exceeds maximum %.3f", name, b.metric, b.actual, *b.limit),
			}
		}
		if !b.ceiling && b.actual < *b.limit {
			return &Violation{
				Evaluator: name,
				Metric:    b.metric,
				Expected:  *b.limit,
				Actual:    b.actual,
				Message:   fmt.Sprintf("%s %s %.3f is below threshold %.3f", name, b.metric, b.actual, *b.limit),
			}
		}
	}

	if th.PassRate != nil {
		minScore := DefaultMinScore
		if th.MinScore != nil {
			minScore = *th.MinScore
		}

		rate := PassRate(items, name, minScore)
		if rate < *th.PassRate {
			return &Violation{
				Evaluator: name,
				Metric:    MetricPassRate,
				Expected:  *th.PassRate,
				Actual:    rate,
				Message:   fmt.Sprintf("%s pass rate %.1f%% is below threshold %.1f%% (min score %.2f)", name, rate*100, *th.PassRate*100, minScore),
			}
		}
	}

	return nil
}

// PassRate is the fraction of items whose score for evaluator is at least
// minScore. Items without a score for evaluator are not counted; with no
// scores at all the rate is 0.
func PassRate(items []*runner.ItemResult, evaluator string, minScore float64) float64 {
	var total, passed int
	for _, item := range items {
		res, ok := item.Evaluations[evaluator]
		if !ok || res == nil {
			continue
		}
		total++
		if res.Score >= minScore {
			passed++
		}
	}

	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total)
}

// LoadThresholds reads a YAML or JSON thresholds file.
func LoadThresholds(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file '%s': %w", path, err)
	}

	th := Thresholds{}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds file '%s': %w", path, err)
	}

	return th, nil
}
