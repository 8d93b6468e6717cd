package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/experiment"
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/metrics"
	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/util"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var (
		outputFormat   string
		verbose        bool
		outputDir      string
		thresholdsFile string
		noCache        bool
		metricsFile    string
		concurrency    int
		runs           int
		ciMode         bool
	)

	cmd := &cobra.Command{
		Use:   "run <experiment-file>",
		Short: "Run an experiment",
		Long: `Run the experiment described by the given file and save its report.

Threshold violations are reported but only fail the command with --ci.

Examples:
  evalkit run experiment.yaml
  evalkit run experiment.yaml --ci --thresholds ci.yaml --metrics-file evalkit.prom`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := args[0]

			// Load experiment spec
			spec, err := experiment.FromFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load experiment config: %w", err)
			}

			if outputDir != "" {
				spec.Output.Dir = outputDir
			}
			if spec.Output.Dir == "" {
				spec.Output.Dir = experiment.DefaultOutputDir
			}
			if noCache {
				spec.Cache = nil
			}

			exp, err := spec.Experiment()
			if err != nil {
				return fmt.Errorf("failed to create experiment: %w", err)
			}

			if thresholdsFile != "" {
				th, err := gate.LoadThresholds(thresholdsFile)
				if err != nil {
					return err
				}
				if exp.Thresholds == nil {
					exp.Thresholds = gate.Thresholds{}
				}
				maps.Copy(exp.Thresholds, th)
			}
			if concurrency > 0 {
				exp.Settings.Concurrency = concurrency
			}
			if runs > 0 {
				exp.Settings.Runs = runs
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx = util.WithVerbose(ctx, verbose)

			opts, err := spec.Options(ctx, logger)
			if err != nil {
				return fmt.Errorf("failed to configure experiment: %w", err)
			}

			// Progress goes to stderr when stdout carries JSON
			progressOut := cmd.OutOrStdout()
			if outputFormat == "json" {
				progressOut = cmd.ErrOrStderr()
			}
			display := newProgressDisplay(progressOut, verbose)
			opts = append(opts,
				experiment.WithLogger(logger),
				experiment.WithObserver(display.handleProgress),
			)

			var reg *prometheus.Registry
			if metricsFile != "" {
				reg = prometheus.NewRegistry()
				recorder, err := metrics.New(reg)
				if err != nil {
					return err
				}
				opts = append(opts, experiment.WithObserver(recordMetrics(recorder)))
			}

			report, runErr := experiment.New(nil, opts...).Run(ctx, exp)
			if report == nil {
				return fmt.Errorf("experiment failed: %w", runErr)
			}

			if reg != nil {
				if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
					return fmt.Errorf("failed to write metrics file: %w", err)
				}
			}

			if runErr == nil {
				path := results.NewFileStorage(spec.Output.Dir).PathFor(report)
				_, _ = fmt.Fprintf(progressOut, "\n📄 Report saved to: %s\n", path)
			}

			// Display results
			if err := displayReport(cmd.OutOrStdout(), report, outputFormat); err != nil {
				return fmt.Errorf("failed to display results: %w", err)
			}

			if runErr != nil {
				return fmt.Errorf("experiment failed: %w", runErr)
			}
			if ciMode && report.CI != nil && !report.CI.Passed {
				return errors.New("CI thresholds not met")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory the report is written to (default from the experiment, else \"results\")")
	cmd.Flags().StringVar(&thresholdsFile, "thresholds", "", "Thresholds file overriding the experiment's thresholds")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the evaluation cache")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Override the experiment's concurrency")
	cmd.Flags().IntVar(&runs, "runs", 0, "Override the experiment's runs per item")
	cmd.Flags().BoolVar(&ciMode, "ci", false, "Exit with a non-zero code when CI thresholds are not met")

	return cmd
}

func recordMetrics(recorder *metrics.Recorder) experiment.ProgressCallback {
	return func(event experiment.ProgressEvent) {
		switch event.Type {
		case experiment.EventUnitComplete:
			recorder.ObserveProgress(*event.Progress)
		case experiment.EventGateChecked:
			recorder.ObserveGate(event.Gate)
		}
	}
}

// progressDisplay handles interactive progress display
type progressDisplay struct {
	out     io.Writer
	verbose bool
	green   *color.Color
	red     *color.Color
	yellow  *color.Color
	cyan    *color.Color
	bold    *color.Color
}

func newProgressDisplay(out io.Writer, verbose bool) *progressDisplay {
	return &progressDisplay{
		out:     out,
		verbose: verbose,
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		cyan:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
	}
}

func (d *progressDisplay) handleProgress(event experiment.ProgressEvent) {
	switch event.Type {
	case experiment.EventExperimentStart:
		_, _ = d.bold.Fprintf(d.out, "\n=== Starting Experiment: %s ===\n", event.Experiment)
		_, _ = fmt.Fprintf(d.out, "%s\n\n", event.Message)

	case experiment.EventUnitComplete:
		d.printUnit(event.Progress)

	case experiment.EventGateChecked:
		_, _ = fmt.Fprintln(d.out)
		if event.Gate.Passed {
			_, _ = d.green.Fprintf(d.out, "✓ %s\n", event.Gate.Summary)
		} else {
			_, _ = d.red.Fprintf(d.out, "✗ %s\n", event.Gate.Summary)
		}

	case experiment.EventExperimentComplete:
		_, _ = fmt.Fprintln(d.out)
		_, _ = d.bold.Fprintln(d.out, "=== Experiment Complete ===")
		_, _ = fmt.Fprintln(d.out, event.Message)
	}
}

func (d *progressDisplay) printUnit(p *runner.Progress) {
	if p == nil || p.Run == nil {
		return
	}

	prefix := fmt.Sprintf("  [%d/%d] item #%d run %d", p.Completed, p.Total, p.ItemIndex, p.RunIndex)
	switch p.Run.Status() {
	case runner.StatusOK:
		_, _ = d.green.Fprintf(d.out, "%s ✓ %dms\n", prefix, p.Run.LatencyMs)
	case runner.StatusTimeout:
		_, _ = d.yellow.Fprintf(d.out, "%s ⏱ %s\n", prefix, p.Run.Error)
	default:
		_, _ = d.red.Fprintf(d.out, "%s ✗ %s\n", prefix, p.Run.Error)
	}

	if !d.verbose {
		return
	}
	for _, name := range sortedKeys(p.Run.Evaluations) {
		res := p.Run.Evaluations[name]
		if res == nil {
			continue
		}
		_, _ = d.cyan.Fprintf(d.out, "      %s: %.2f", name, res.Score)
		if res.Reason != "" {
			_, _ = fmt.Fprintf(d.out, " %s", truncateString(res.Reason, defaultMaxLineLength))
		}
		_, _ = fmt.Fprintln(d.out)
	}
}

func displayReport(w io.Writer, report *results.Report, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)

	case "text":
		printReportSummary(w, report, results.DefaultMinScore)
		return nil

	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
