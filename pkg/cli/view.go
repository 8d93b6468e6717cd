package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

const (
	defaultMaxOutputLines = 6
	defaultMaxLineLength  = 100
)

// NewViewCmd creates the view command for rendering experiment reports.
func NewViewCmd() *cobra.Command {
	var (
		itemFilter     string
		failedOnly     bool
		showRuns       bool
		maxOutputLines = defaultMaxOutputLines
		maxLineLength  = defaultMaxLineLength
	)

	cmd := &cobra.Command{
		Use:   "view <results-file>",
		Short: "Pretty-print an experiment report",
		Long: `Render the JSON report produced by "evalkit run" in a human-friendly format.

Examples:
  evalkit view results/evalkit-capitals-20250301T120000-0b6f5c0e.json
  evalkit view --item japan --runs --max-output-lines 20 report.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := results.Load(args[0])
			if err != nil {
				return err
			}

			filtered := results.FilterItems(report.Items, itemFilter)
			if failedOnly {
				failed := make([]*runner.ItemResult, 0, len(filtered))
				for _, item := range filtered {
					if !results.ItemPassed(item, results.DefaultMinScore) {
						failed = append(failed, item)
					}
				}
				filtered = failed
			}

			if len(filtered) == 0 {
				switch {
				case itemFilter == "" && !failedOnly:
					return errors.New("no items found in report")
				case itemFilter == "":
					return errors.New("no failed items in report")
				}
				return fmt.Errorf("no items matched filter %q", itemFilter)
			}

			w := cmd.OutOrStdout()
			for idx, item := range filtered {
				if idx > 0 {
					_, _ = fmt.Fprintln(w)
				}
				printItemResult(w, item, viewOptions{
					showRuns:       showRuns,
					maxOutputLines: maxOutputLines,
					maxLineLength:  maxLineLength,
				})
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&itemFilter, "item", "", "Only show items whose id or input contains this value")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show items that errored or scored below the default minimum")
	cmd.Flags().BoolVar(&showRuns, "runs", false, "Include every run of multi-run items")
	cmd.Flags().IntVar(&maxOutputLines, "max-output-lines", maxOutputLines, "Maximum lines to display for agent output (0 = unlimited)")
	cmd.Flags().IntVar(&maxLineLength, "max-line-length", maxLineLength, "Maximum characters per line when formatting output")

	return cmd
}

type viewOptions struct {
	showRuns       bool
	maxOutputLines int
	maxLineLength  int
}

func printItemResult(w io.Writer, item *runner.ItemResult, opts viewOptions) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	_, _ = bold.Fprintf(w, "Item: %s\n", results.ItemKey(item))
	_, _ = fmt.Fprintf(w, "  Index: %d\n", item.Index)

	status := "PASSED"
	statusColor := green
	switch {
	case item.Error != "":
		status = "FAILED (agent error)"
		statusColor = red
	case !results.ItemPassed(item, results.DefaultMinScore):
		status = "FAILED"
		statusColor = red
	case len(item.Runs) > 1 && failedRuns(item) > 0:
		status = fmt.Sprintf("PASSED (%d/%d runs failed)", failedRuns(item), len(item.Runs))
		statusColor = yellow
	}
	_, _ = statusColor.Fprintf(w, "  Status: %s\n", status)

	if trimmed := strings.TrimSpace(item.Error); trimmed != "" {
		printMultilineField(w, "Error", trimmed)
	}

	if input, err := json.Marshal(item.Input); err == nil {
		_, _ = fmt.Fprintf(w, "  Input: %s\n", truncateString(string(input), opts.maxLineLength))
	}
	if output := limitMultiline(item.Output, opts.maxOutputLines, opts.maxLineLength); output != "" {
		printMultilineField(w, "Output", output)
	}
	_, _ = fmt.Fprintf(w, "  Latency: %dms\n", item.LatencyMs)

	printEvaluations(w, item.Evaluations, "  ", opts.maxLineLength)

	if len(item.Aggregated) > 0 {
		_, _ = fmt.Fprintln(w, "  Across runs:")
		for _, name := range sortedKeys(item.Aggregated) {
			agg := item.Aggregated[name]
			_, _ = fmt.Fprintf(w, "    %s: mean %.3f ± %.3f (min %.3f, max %.3f, p50 %.3f)\n",
				name, agg.Mean, agg.StdDev, agg.Min, agg.Max, agg.P50)
		}
	}

	if opts.showRuns && len(item.Runs) > 1 {
		_, _ = fmt.Fprintln(w, "  Runs:")
		for _, run := range item.Runs {
			printRun(w, run, opts)
		}
	}
}

func printEvaluations(w io.Writer, evaluations map[string]*evaluator.EvalResult, indent string, maxLineLength int) {
	if len(evaluations) == 0 {
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	_, _ = fmt.Fprintf(w, "%sEvaluations:\n", indent)
	for _, name := range sortedKeys(evaluations) {
		res := evaluations[name]
		if res == nil {
			continue
		}

		mark, c := "✓", green
		if res.Score < results.DefaultMinScore {
			mark, c = "✗", red
		}
		_, _ = c.Fprintf(w, "%s  %s %s: %.2f\n", indent, mark, name, res.Score)

		if res.Reason != "" {
			reason := wrapText(normalizeWhitespace(res.Reason), maxLineLength)
			_, _ = fmt.Fprintln(w, indentBlock(reason, indent+"      "))
		}
	}
}

func printRun(w io.Writer, run *runner.SingleRun, opts viewOptions) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	header := fmt.Sprintf("    #%d %s %dms", run.RunIndex, run.Status(), run.LatencyMs)
	switch run.Status() {
	case runner.StatusTimeout:
		_, _ = yellow.Fprintln(w, header)
	case runner.StatusError:
		_, _ = red.Fprintln(w, header)
		_, _ = fmt.Fprintf(w, "      %s\n", truncateString(run.Error, opts.maxLineLength))
	default:
		_, _ = fmt.Fprintln(w, header)
		if output := limitMultiline(run.Output, 1, opts.maxLineLength); output != "" {
			_, _ = fmt.Fprintf(w, "      → %s\n", output)
		}
	}

	printEvaluations(w, run.Evaluations, "      ", opts.maxLineLength)
}

func failedRuns(item *runner.ItemResult) int {
	failed := 0
	for _, run := range item.Runs {
		if run.Error != "" {
			failed++
		}
	}
	return failed
}

func limitMultiline(raw string, maxLines, maxLineLength int) string {
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	limited := make([]string, 0, len(lines))
	for idx, line := range lines {
		if maxLines > 0 && idx >= maxLines {
			limited = append(limited, fmt.Sprintf("… (+%d lines)", len(lines)-idx))
			break
		}
		if maxLineLength > 0 {
			limited = append(limited, strings.Split(wrapText(line, maxLineLength), "\n")...)
		} else {
			limited = append(limited, line)
		}
	}
	return strings.Join(limited, "\n")
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return fmt.Sprintf("%s…", strings.TrimSpace(s[:max-1]))
}

func indentBlock(block, indent string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

func normalizeWhitespace(in string) string {
	in = strings.ReplaceAll(in, "\n", " ")
	in = strings.ReplaceAll(in, "\t", " ")
	fields := strings.Fields(in)
	return strings.Join(fields, " ")
}

func wrapText(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}

	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}

	lines := make([]string, 0)
	current := words[0]

	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func printMultilineField(w io.Writer, label, value string) {
	value = strings.TrimRight(value, "\n")
	if !strings.Contains(value, "\n") {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", label, value)
		return
	}

	_, _ = fmt.Fprintf(w, "  %s:\n", label)
	for _, line := range strings.Split(value, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		_, _ = fmt.Fprintf(w, "    %s\n", line)
	}
}
