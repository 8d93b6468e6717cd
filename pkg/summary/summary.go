// Package summary rolls runner results up into experiment level statistics.
package summary

import (
	"sort"
	"time"

	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/stats"
)

// Summary is the experiment level rollup.
type Summary struct {
	TotalItems      int   `json:"totalItems"`
	TotalRuns       int   `json:"totalRuns"`
	FailedRuns      int   `json:"failedRuns"`
	TotalDurationMs int64 `json:"totalDurationMs"`
	// AvgLatencyMs is the mean latency over every unit, including failed ones
	AvgLatencyMs  float64                     `json:"avgLatencyMs"`
	TotalTokens   *runner.TokenUsage          `json:"totalTokens,omitempty"`
	EstimatedCost *float64                    `json:"estimatedCost,omitempty"`
	Scores        map[string]stats.ScoreStats `json:"scores"`
}

// PricingFunc returns the cost of one unit's usage, and false when the model
// has no known price.
type PricingFunc func(model string, usage runner.TokenUsage) (float64, bool)

// Rate is a price in currency units per 1000 tokens.
type Rate struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// RatePricing prices usage from per-model rates.
func RatePricing(rates map[string]Rate) PricingFunc {
	return func(model string, usage runner.TokenUsage) (float64, bool) {
		rate, ok := rates[model]
		if !ok {
			return 0, false
		}
		return float64(usage.PromptTokens)/1000*rate.Prompt +
			float64(usage.CompletionTokens)/1000*rate.Completion, true
	}
}

// Build summarizes items. duration is the wall clock time of the whole
// experiment, measured by the caller. pricing may be nil.
func Build(items []*runner.ItemResult, duration time.Duration, pricing PricingFunc) *Summary {
	s := &Summary{
		TotalItems:      len(items),
		TotalDurationMs: duration.Milliseconds(),
		Scores:          map[string]stats.ScoreStats{},
	}

	var (
		latency int64
		tokens  runner.TokenUsage
		hasUse  bool
		cost    float64
		priced  bool
		scores  = map[string][]float64{}
	)

	for _, item := range items {
		for _, run := range item.Runs {
			s.TotalRuns++
			latency += run.LatencyMs
			if run.Error != "" {
				s.FailedRuns++
			}

			if run.Usage != nil {
				hasUse = true
				tokens.PromptTokens += run.Usage.PromptTokens
				tokens.CompletionTokens += run.Usage.CompletionTokens
				tokens.TotalTokens += run.Usage.TotalTokens

				if pricing != nil {
					if c, ok := pricing(run.Model, *run.Usage); ok {
						cost += c
						priced = true
					}
				}
			}

			for name, res := range run.Evaluations {
				scores[name] = append(scores[name], res.Score)
			}
		}
	}

	if s.TotalRuns > 0 {
		s.AvgLatencyMs = float64(latency) / float64(s.TotalRuns)
	}
	if hasUse {
		s.TotalTokens = &tokens
	}
	if priced {
		s.EstimatedCost = &cost
	}
	for name, values := range scores {
		s.Scores[name] = stats.Calculate(values)
	}

	return s
}

// EvaluatorNames returns the evaluators present in the summary, sorted.
func (s *Summary) EvaluatorNames() []string {
	names := make([]string, 0, len(s.Scores))
	for name := range s.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
