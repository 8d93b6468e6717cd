package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/results"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var (
		itemThreshold       float64
		evaluationThreshold float64
		minScore            float64
		thresholdsFile      string
	)

	cmd := &cobra.Command{
		Use:   "verify <results-file>",
		Short: "Verify a report meets thresholds",
		Long: `Verify that a report meets minimum pass rates and, optionally, the
per-evaluator thresholds of a thresholds file.

Exits with code 0 if all thresholds are met, code 1 otherwise.
Use 'evalkit summary' to view detailed results.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultsFile := args[0]

			report, err := results.Load(resultsFile)
			if err != nil {
				return fmt.Errorf("failed to load results file: %w", err)
			}

			var gateResult *gate.Result
			if thresholdsFile != "" {
				th, err := gate.LoadThresholds(thresholdsFile)
				if err != nil {
					return err
				}
				gateResult = gate.Validate(report.Summary, report.Items, th)
			}

			stats := results.CalculateStats(resultsFile, report, minScore)

			itemThresholdMet := stats.ItemPassRate >= itemThreshold
			// If no evaluations exist, skip the evaluation threshold check
			evaluationThresholdMet := stats.EvaluationsTotal == 0 || stats.EvaluationPassRate >= evaluationThreshold
			passed := itemThresholdMet && evaluationThresholdMet && (gateResult == nil || gateResult.Passed)

			outputVerifyResults(cmd.OutOrStdout(), stats, verifyThresholds{
				item:       itemThreshold,
				evaluation: evaluationThreshold,
				itemMet:    itemThresholdMet,
				evalMet:    evaluationThresholdMet,
			}, gateResult, passed)

			if !passed {
				// silent error (SilenceErrors: true), sets exit code 1
				return fmt.Errorf("thresholds not met")
			}

			return nil
		},
	}

	cmd.Flags().Float64Var(&itemThreshold, "item", 0.0, "Minimum item pass rate (0.0-1.0)")
	cmd.Flags().Float64Var(&evaluationThreshold, "evaluation", 0.0, "Minimum evaluation pass rate (0.0-1.0)")
	cmd.Flags().Float64Var(&minScore, "min-score", results.DefaultMinScore, "Score an evaluation needs to count as passed")
	cmd.Flags().StringVar(&thresholdsFile, "thresholds", "", "Per-evaluator thresholds file to check the report against")

	return cmd
}

type verifyThresholds struct {
	item       float64
	evaluation float64
	itemMet    bool
	evalMet    bool
}

func outputVerifyResults(w io.Writer, stats results.Stats, th verifyThresholds, gateResult *gate.Result, passed bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	_, _ = bold.Fprintln(w, "=== Threshold Verification ===")
	_, _ = fmt.Fprintln(w)

	// Item threshold
	if th.itemMet {
		_, _ = green.Fprintf(w, "Item Pass Rate:       %.2f%% >= %.2f%% ✓\n",
			stats.ItemPassRate*100, th.item*100)
	} else {
		_, _ = red.Fprintf(w, "Item Pass Rate:       %.2f%% < %.2f%% ✗\n",
			stats.ItemPassRate*100, th.item*100)
	}

	// Evaluation threshold
	if stats.EvaluationsTotal == 0 {
		_, _ = fmt.Fprintln(w, "Evaluation Pass Rate: N/A (no evaluations recorded)")
	} else if th.evalMet {
		_, _ = green.Fprintf(w, "Evaluation Pass Rate: %.2f%% >= %.2f%% ✓\n",
			stats.EvaluationPassRate*100, th.evaluation*100)
	} else {
		_, _ = red.Fprintf(w, "Evaluation Pass Rate: %.2f%% < %.2f%% ✗\n",
			stats.EvaluationPassRate*100, th.evaluation*100)
	}

	if gateResult != nil {
		_, _ = fmt.Fprintln(w)
		if gateResult.Passed {
			_, _ = green.Fprintf(w, "Evaluator Thresholds: %s ✓\n", gateResult.Summary)
		} else {
			_, _ = red.Fprintf(w, "Evaluator Thresholds: %s ✗\n", gateResult.Summary)
			for _, v := range gateResult.Violations {
				_, _ = fmt.Fprintf(w, "  - %s\n", v.Message)
			}
		}
	}

	_, _ = fmt.Fprintln(w)
	if passed {
		_, _ = green.Fprintln(w, "Result: PASSED")
	} else {
		_, _ = red.Fprintln(w, "Result: FAILED")
	}
}
