package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

// DiffResult holds the comparison between two reports
type DiffResult struct {
	BaseStats    results.Stats
	HeadStats    results.Stats
	Regressions  []ItemDiff
	Improvements []ItemDiff
	New          []ItemDiff
	Removed      []ItemDiff
	// Scores compares per-evaluator averages present in either report
	Scores []ScoreDiff
}

// ItemDiff holds the diff for a single item
type ItemDiff struct {
	Item          string
	BasePassed    bool
	HeadPassed    bool
	FailureReason string
}

// ScoreDiff compares one evaluator's average score
type ScoreDiff struct {
	Evaluator string
	Base      *float64
	Head      *float64
}

// NewDiffCmd creates the diff command
func NewDiffCmd() *cobra.Command {
	var outputFormat string
	var baseFile string
	var currentFile string
	var minScore float64

	cmd := &cobra.Command{
		Use:   "diff --base <results-file> --current <results-file>",
		Short: "Compare two experiment reports",
		Long: `Compare reports between two runs (e.g., main vs PR).

Items are matched by their "id" or "name" field, else by dataset position.
Shows regressions, improvements, evaluator score changes and overall pass
rate changes. Useful for posting on pull requests to show impact of changes.

Example:
  evalkit diff --base results-main.json --current results-pr.json
  evalkit diff --base results-main.json --current results-pr.json --output markdown`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseReport, err := results.Load(baseFile)
			if err != nil {
				return fmt.Errorf("failed to load base results: %w", err)
			}

			currentReport, err := results.Load(currentFile)
			if err != nil {
				return fmt.Errorf("failed to load current results: %w", err)
			}

			diff := calculateDiff(baseFile, currentFile, baseReport, currentReport, minScore)

			switch outputFormat {
			case "text":
				outputTextDiff(cmd.OutOrStdout(), diff)
			case "markdown":
				outputMarkdownDiff(cmd.OutOrStdout(), diff)
			default:
				return fmt.Errorf("unknown output format: %s", outputFormat)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&baseFile, "base", "", "Base results file (e.g., main branch)")
	cmd.Flags().StringVar(&currentFile, "current", "", "Current results file (e.g., PR branch)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, markdown)")
	cmd.Flags().Float64Var(&minScore, "min-score", results.DefaultMinScore, "Score an evaluation needs to count as passed")

	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("current")

	return cmd
}

func calculateDiff(baseFile, currentFile string, base, current *results.Report, minScore float64) DiffResult {
	diff := DiffResult{
		BaseStats:    results.CalculateStats(baseFile, base, minScore),
		HeadStats:    results.CalculateStats(currentFile, current, minScore),
		Regressions:  make([]ItemDiff, 0),
		Improvements: make([]ItemDiff, 0),
		New:          make([]ItemDiff, 0),
		Removed:      make([]ItemDiff, 0),
		Scores:       compareScores(base, current),
	}

	baseMap := make(map[string]*runner.ItemResult)
	for _, item := range base.Items {
		baseMap[results.ItemKey(item)] = item
	}

	currentMap := make(map[string]*runner.ItemResult)
	for _, item := range current.Items {
		currentMap[results.ItemKey(item)] = item
	}

	for _, head := range current.Items {
		key := results.ItemKey(head)
		headPassed := results.ItemPassed(head, minScore)

		prev, exists := baseMap[key]
		if !exists {
			diff.New = append(diff.New, ItemDiff{
				Item:       key,
				HeadPassed: headPassed,
			})
			continue
		}

		basePassed := results.ItemPassed(prev, minScore)
		itemDiff := ItemDiff{
			Item:          key,
			BasePassed:    basePassed,
			HeadPassed:    headPassed,
			FailureReason: results.FailureReason(head, minScore),
		}

		if basePassed && !headPassed {
			diff.Regressions = append(diff.Regressions, itemDiff)
		} else if !basePassed && headPassed {
			diff.Improvements = append(diff.Improvements, itemDiff)
		}
	}

	for _, prev := range base.Items {
		key := results.ItemKey(prev)
		if _, exists := currentMap[key]; !exists {
			diff.Removed = append(diff.Removed, ItemDiff{
				Item:       key,
				BasePassed: results.ItemPassed(prev, minScore),
			})
		}
	}

	return diff
}

func compareScores(base, current *results.Report) []ScoreDiff {
	avgs := func(r *results.Report) map[string]float64 {
		out := make(map[string]float64)
		if r.Summary == nil {
			return out
		}
		for name, s := range r.Summary.Scores {
			out[name] = s.Avg
		}
		return out
	}

	baseAvgs := avgs(base)
	headAvgs := avgs(current)

	names := make(map[string]struct{})
	for name := range baseAvgs {
		names[name] = struct{}{}
	}
	for name := range headAvgs {
		names[name] = struct{}{}
	}

	diffs := make([]ScoreDiff, 0, len(names))
	for _, name := range sortedKeys(names) {
		d := ScoreDiff{Evaluator: name}
		if v, ok := baseAvgs[name]; ok {
			d.Base = &v
		}
		if v, ok := headAvgs[name]; ok {
			d.Head = &v
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func outputTextDiff(w io.Writer, diff DiffResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	bold := color.New(color.Bold)

	_, _ = bold.Fprintln(w, "=== Experiment Diff ===")
	_, _ = fmt.Fprintln(w)

	// Regressions
	if len(diff.Regressions) > 0 {
		_, _ = red.Fprintf(w, "Regressions (%d):\n", len(diff.Regressions))
		for _, r := range diff.Regressions {
			_, _ = red.Fprintf(w, "  ✗ %s: PASSED → FAILED\n", r.Item)
			if r.FailureReason != "" {
				_, _ = fmt.Fprintf(w, "      %s\n", r.FailureReason)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	// Improvements
	if len(diff.Improvements) > 0 {
		_, _ = green.Fprintf(w, "Improvements (%d):\n", len(diff.Improvements))
		for _, r := range diff.Improvements {
			_, _ = green.Fprintf(w, "  ✓ %s: FAILED → PASSED\n", r.Item)
		}
		_, _ = fmt.Fprintln(w)
	}

	// New items
	if len(diff.New) > 0 {
		_, _ = yellow.Fprintf(w, "New Items (%d):\n", len(diff.New))
		for _, r := range diff.New {
			if r.HeadPassed {
				_, _ = green.Fprintf(w, "  + %s: PASSED\n", r.Item)
			} else {
				_, _ = red.Fprintf(w, "  + %s: FAILED\n", r.Item)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	// Removed items
	if len(diff.Removed) > 0 {
		_, _ = yellow.Fprintf(w, "Removed Items (%d):\n", len(diff.Removed))
		for _, r := range diff.Removed {
			_, _ = fmt.Fprintf(w, "  - %s\n", r.Item)
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(diff.Scores) > 0 {
		_, _ = bold.Fprintln(w, "=== Average Scores ===")
		_, _ = fmt.Fprintln(w)
		for _, s := range diff.Scores {
			_, _ = fmt.Fprintf(w, "%-24s %-8s %-8s ", truncateString(s.Evaluator, 24), formatScore(s.Base), formatScore(s.Head))
			if s.Base != nil && s.Head != nil {
				printChange(w, *s.Head-*s.Base)
			} else {
				_, _ = fmt.Fprintln(w, "n/a")
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	// Summary table
	_, _ = bold.Fprintln(w, "=== Summary ===")
	_, _ = fmt.Fprintln(w)

	itemChange := diff.HeadStats.ItemPassRate - diff.BaseStats.ItemPassRate
	evaluationChange := diff.HeadStats.EvaluationPassRate - diff.BaseStats.EvaluationPassRate

	_, _ = fmt.Fprintf(w, "             Base        Head        Change\n")
	_, _ = fmt.Fprintf(w, "Items:       %d/%-8d %d/%-8d ",
		diff.BaseStats.ItemsPassed, diff.BaseStats.ItemsTotal,
		diff.HeadStats.ItemsPassed, diff.HeadStats.ItemsTotal)
	printChange(w, itemChange)

	_, _ = fmt.Fprintf(w, "Evaluations: %d/%-8d %d/%-8d ",
		diff.BaseStats.EvaluationsPassed, diff.BaseStats.EvaluationsTotal,
		diff.HeadStats.EvaluationsPassed, diff.HeadStats.EvaluationsTotal)
	printChange(w, evaluationChange)
}

func printChange(w io.Writer, change float64) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	if change > 0 {
		_, _ = green.Fprintf(w, "+%.1f%%\n", change*100)
	} else if change < 0 {
		_, _ = red.Fprintf(w, "%.1f%%\n", change*100)
	} else {
		_, _ = fmt.Fprintln(w, "0.0%")
	}
}

func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func outputMarkdownDiff(w io.Writer, diff DiffResult) {
	itemChange := diff.HeadStats.ItemPassRate - diff.BaseStats.ItemPassRate
	evaluationChange := diff.HeadStats.EvaluationPassRate - diff.BaseStats.EvaluationPassRate

	_, _ = fmt.Fprintln(w, "### 📊 Experiment Results")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "| Metric | Base | Head | Change |")
	_, _ = fmt.Fprintln(w, "|--------|------|------|--------|")
	_, _ = fmt.Fprintf(w, "| Items | %d/%d (%.1f%%) | %d/%d (%.1f%%) | %s |\n",
		diff.BaseStats.ItemsPassed, diff.BaseStats.ItemsTotal, diff.BaseStats.ItemPassRate*100,
		diff.HeadStats.ItemsPassed, diff.HeadStats.ItemsTotal, diff.HeadStats.ItemPassRate*100,
		formatChangeMarkdown(itemChange))
	_, _ = fmt.Fprintf(w, "| Evaluations | %d/%d (%.1f%%) | %d/%d (%.1f%%) | %s |\n",
		diff.BaseStats.EvaluationsPassed, diff.BaseStats.EvaluationsTotal, diff.BaseStats.EvaluationPassRate*100,
		diff.HeadStats.EvaluationsPassed, diff.HeadStats.EvaluationsTotal, diff.HeadStats.EvaluationPassRate*100,
		formatChangeMarkdown(evaluationChange))
	for _, s := range diff.Scores {
		change := "n/a"
		if s.Base != nil && s.Head != nil {
			change = formatChangeMarkdown(*s.Head - *s.Base)
		}
		_, _ = fmt.Fprintf(w, "| `%s` avg | %s | %s | %s |\n", s.Evaluator, formatScore(s.Base), formatScore(s.Head), change)
	}

	// Regressions
	if len(diff.Regressions) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "#### ❌ Regressions (%d)\n", len(diff.Regressions))
		for _, r := range diff.Regressions {
			_, _ = fmt.Fprintf(w, "- `%s`: PASSED → FAILED", r.Item)
			if r.FailureReason != "" {
				_, _ = fmt.Fprintf(w, " - %s", r.FailureReason)
			}
			_, _ = fmt.Fprintln(w)
		}
	}

	// Improvements
	if len(diff.Improvements) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "#### ✅ Improvements (%d)\n", len(diff.Improvements))
		for _, r := range diff.Improvements {
			_, _ = fmt.Fprintf(w, "- `%s`: FAILED → PASSED\n", r.Item)
		}
	}

	// New items
	if len(diff.New) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "#### 🆕 New Items (%d)\n", len(diff.New))
		for _, r := range diff.New {
			status := "PASSED"
			if !r.HeadPassed {
				status = "FAILED"
			}
			_, _ = fmt.Fprintf(w, "- `%s`: %s\n", r.Item, status)
		}
	}

	// Removed items
	if len(diff.Removed) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "#### 🗑️ Removed Items (%d)\n", len(diff.Removed))
		for _, r := range diff.Removed {
			_, _ = fmt.Fprintf(w, "- `%s`\n", r.Item)
		}
	}
}

func formatChangeMarkdown(change float64) string {
	if change > 0 {
		return fmt.Sprintf("🟢 +%.1f%%", change*100)
	} else if change < 0 {
		return fmt.Sprintf("🔴 %.1f%%", change*100)
	}
	return "➖ 0.0%"
}
