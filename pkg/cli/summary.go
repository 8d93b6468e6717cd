package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/summary"
)

// summaryOutput is the JSON form of the summary command
type summaryOutput struct {
	Name    string           `json:"name"`
	ID      string           `json:"id"`
	Stats   results.Stats    `json:"stats"`
	Summary *summary.Summary `json:"summary"`
	Failed  []failedItem     `json:"failed"`
	CI      *ciOutput        `json:"ci,omitempty"`
}

type failedItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

type ciOutput struct {
	Passed  bool   `json:"passed"`
	Summary string `json:"summary"`
}

// NewSummaryCmd creates the summary command
func NewSummaryCmd() *cobra.Command {
	var (
		itemFilter   string
		outputFormat string
		minScore     float64
	)

	cmd := &cobra.Command{
		Use:   "summary <results-file>",
		Short: "Summarize an experiment report",
		Long: `Print score statistics, pass rates and failing items of a report.

The github format renders markdown suitable for $GITHUB_STEP_SUMMARY.

Examples:
  evalkit summary results/evalkit-capitals-20250301T120000-0b6f5c0e.json
  evalkit summary report.json --item japan --output json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultsFile := args[0]

			report, err := results.Load(resultsFile)
			if err != nil {
				return fmt.Errorf("failed to load results file: %w", err)
			}

			if itemFilter != "" {
				report, err = filterReport(report, itemFilter)
				if err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			switch outputFormat {
			case "text":
				printReportSummary(w, report, minScore)
			case "json":
				encoder := json.NewEncoder(w)
				encoder.SetIndent("", "  ")
				return encoder.Encode(buildSummaryOutput(resultsFile, report, minScore))
			case "github":
				printGitHubSummary(w, report, minScore)
			default:
				return fmt.Errorf("unknown output format: %s", outputFormat)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&itemFilter, "item", "", "Only summarize items whose id or input contains this value")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json, github)")
	cmd.Flags().Float64Var(&minScore, "min-score", results.DefaultMinScore, "Score an evaluation needs to count as passed")

	return cmd
}

// filterReport returns a copy of report restricted to the matching items,
// with score statistics recomputed over them.
func filterReport(report *results.Report, filter string) (*results.Report, error) {
	items := results.FilterItems(report.Items, filter)
	if len(items) == 0 {
		return nil, fmt.Errorf("no items matched filter %q", filter)
	}

	var duration time.Duration
	if report.Summary != nil {
		duration = time.Duration(report.Summary.TotalDurationMs) * time.Millisecond
	}

	filtered := *report
	filtered.Items = items
	filtered.Summary = summary.Build(items, duration, nil)
	filtered.CI = nil
	return &filtered, nil
}

func buildSummaryOutput(resultsFile string, report *results.Report, minScore float64) summaryOutput {
	out := summaryOutput{
		Name:    report.Name,
		ID:      report.ID,
		Stats:   results.CalculateStats(resultsFile, report, minScore),
		Summary: report.Summary,
		Failed:  make([]failedItem, 0),
	}

	for _, item := range report.Items {
		if reason := results.FailureReason(item, minScore); reason != "" {
			out.Failed = append(out.Failed, failedItem{Item: results.ItemKey(item), Reason: reason})
		}
	}

	if report.CI != nil {
		out.CI = &ciOutput{Passed: report.CI.Passed, Summary: report.CI.Summary}
	}

	return out
}

func printReportSummary(w io.Writer, report *results.Report, minScore float64) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintf(w, "=== Results Summary: %s ===\n", report.Name)
	_, _ = fmt.Fprintf(w, "ID:        %s\n", report.ID)
	_, _ = fmt.Fprintf(w, "Timestamp: %s\n", report.Timestamp.Format(time.RFC3339))
	if report.Config.Model != "" {
		_, _ = fmt.Fprintf(w, "Model:     %s\n", report.Config.Model)
	}
	_, _ = fmt.Fprintln(w)

	if s := report.Summary; s != nil {
		_, _ = fmt.Fprintf(w, "Items:        %d\n", s.TotalItems)
		if s.FailedRuns > 0 {
			_, _ = red.Fprintf(w, "Runs:         %d (%d failed)\n", s.TotalRuns, s.FailedRuns)
		} else {
			_, _ = fmt.Fprintf(w, "Runs:         %d\n", s.TotalRuns)
		}
		_, _ = fmt.Fprintf(w, "Duration:     %s\n", (time.Duration(s.TotalDurationMs) * time.Millisecond).String())
		_, _ = fmt.Fprintf(w, "Avg Latency:  %.0fms\n", s.AvgLatencyMs)
		if s.TotalTokens != nil {
			_, _ = fmt.Fprintf(w, "Tokens:       %d (prompt %d, completion %d)\n",
				s.TotalTokens.TotalTokens, s.TotalTokens.PromptTokens, s.TotalTokens.CompletionTokens)
		}
		if s.EstimatedCost != nil {
			_, _ = fmt.Fprintf(w, "Est. Cost:    $%.4f\n", *s.EstimatedCost)
		}

		if len(s.Scores) > 0 {
			_, _ = fmt.Fprintln(w)
			_, _ = bold.Fprintln(w, "=== Scores ===")
			_, _ = fmt.Fprintf(w, "%-24s %6s %6s %6s %6s %6s %6s\n", "Evaluator", "Count", "Avg", "Min", "Max", "P50", "P95")
			for _, name := range s.EvaluatorNames() {
				sc := s.Scores[name]
				_, _ = fmt.Fprintf(w, "%-24s %6d %6.3f %6.3f %6.3f %6.3f %6.3f\n",
					truncateString(name, 24), sc.Count, sc.Avg, sc.Min, sc.Max, sc.P50, sc.P95)
			}
		}
	}

	stats := results.CalculateStats("", report, minScore)
	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "=== Overall Statistics ===")
	if stats.ItemsPassed == stats.ItemsTotal {
		_, _ = green.Fprintf(w, "Items Passed:       %d/%d\n", stats.ItemsPassed, stats.ItemsTotal)
	} else {
		_, _ = fmt.Fprintf(w, "Items Passed:       %d/%d\n", stats.ItemsPassed, stats.ItemsTotal)
	}
	if stats.EvaluationsPassed == stats.EvaluationsTotal {
		_, _ = green.Fprintf(w, "Evaluations Passed: %d/%d\n", stats.EvaluationsPassed, stats.EvaluationsTotal)
	} else {
		_, _ = fmt.Fprintf(w, "Evaluations Passed: %d/%d\n", stats.EvaluationsPassed, stats.EvaluationsTotal)
	}

	var failed []failedItem
	for _, item := range report.Items {
		if reason := results.FailureReason(item, minScore); reason != "" {
			failed = append(failed, failedItem{Item: results.ItemKey(item), Reason: reason})
		}
	}
	if len(failed) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = red.Fprintf(w, "Failed Items (%d):\n", len(failed))
		for _, f := range failed {
			_, _ = fmt.Fprintf(w, "  ✗ %s: %s\n", f.Item, truncateString(f.Reason, defaultMaxLineLength))
		}
	}

	if report.CI != nil {
		_, _ = fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "=== CI Thresholds ===")
		if report.CI.Passed {
			_, _ = green.Fprintf(w, "✓ %s\n", report.CI.Summary)
		} else {
			_, _ = red.Fprintf(w, "✗ %s\n", report.CI.Summary)
			for _, v := range report.CI.Violations {
				_, _ = fmt.Fprintf(w, "  - %s\n", v.Message)
			}
		}
	}
}

func printGitHubSummary(w io.Writer, report *results.Report, minScore float64) {
	stats := results.CalculateStats("", report, minScore)

	_, _ = fmt.Fprintf(w, "### 📊 %s\n\n", report.Name)
	_, _ = fmt.Fprintf(w, "**Items:** %d/%d passed (%.1f%%) · **Evaluations:** %d/%d passed (%.1f%%)\n",
		stats.ItemsPassed, stats.ItemsTotal, stats.ItemPassRate*100,
		stats.EvaluationsPassed, stats.EvaluationsTotal, stats.EvaluationPassRate*100)

	if report.Summary != nil && len(report.Summary.Scores) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "| Evaluator | Count | Avg | Min | Max | P50 | P95 |")
		_, _ = fmt.Fprintln(w, "|-----------|-------|-----|-----|-----|-----|-----|")
		for _, name := range report.Summary.EvaluatorNames() {
			sc := report.Summary.Scores[name]
			_, _ = fmt.Fprintf(w, "| `%s` | %d | %.3f | %.3f | %.3f | %.3f | %.3f |\n",
				name, sc.Count, sc.Avg, sc.Min, sc.Max, sc.P50, sc.P95)
		}
	}

	var failed []string
	for _, item := range report.Items {
		if reason := results.FailureReason(item, minScore); reason != "" {
			failed = append(failed, fmt.Sprintf("- `%s`: %s", results.ItemKey(item), reason))
		}
	}
	if len(failed) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "<details><summary>❌ Failed items (%d)</summary>\n\n", len(failed))
		for _, line := range failed {
			_, _ = fmt.Fprintln(w, line)
		}
		_, _ = fmt.Fprintln(w, "\n</details>")
	}

	if report.CI != nil {
		_, _ = fmt.Fprintln(w)
		if report.CI.Passed {
			_, _ = fmt.Fprintf(w, "✅ %s\n", report.CI.Summary)
		} else {
			_, _ = fmt.Fprintf(w, "❌ %s\n", report.CI.Summary)
			for _, v := range report.CI.Violations {
				_, _ = fmt.Fprintf(w, "- %s\n", v.Message)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
