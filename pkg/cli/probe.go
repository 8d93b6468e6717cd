package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpchecker/evalkit/pkg/agent"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

// NewProbeCmd creates the probe command, which runs an agent once outside
// of an experiment.
func NewProbeCmd() *cobra.Command {
	var (
		input   string
		fields  []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <agent-file>",
		Short: "Run an agent on a single item",
		Long: `Run the agent described by an Agent file on one item and print its
output. Useful for checking an agent's prompt and command before running a
whole experiment.`,
		Example: `  evalkit probe agent.yaml --input "What is the capital of France?"
  evalkit probe agent.yaml --field question=France --field expected=Paris`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := agent.FromFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load agent: %w", err)
			}

			agentFn, err := spec.Build()
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			item, err := probeItem(input, fields)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			out, err := agentFn(ctx, item, 0, 0)
			if err != nil {
				return fmt.Errorf("agent execution failed: %w", err)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w, "Agent Response:")
			_, _ = fmt.Fprintln(w, strings.Repeat("=", 50))
			_, _ = fmt.Fprintln(w, out.Output)
			_, _ = fmt.Fprintln(w, strings.Repeat("=", 50))
			_, _ = fmt.Fprintf(w, "Latency: %s\n", time.Since(start).Round(time.Millisecond))
			if out.Model != "" {
				_, _ = fmt.Fprintf(w, "Model:   %s\n", out.Model)
			}
			if out.Usage != nil {
				_, _ = fmt.Fprintf(w, "Tokens:  %d (prompt %d, completion %d)\n",
					out.Usage.TotalTokens, out.Usage.PromptTokens, out.Usage.CompletionTokens)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Value of the item's \"input\" field")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Additional item field as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait for the agent (0 = no limit)")

	return cmd
}

func probeItem(input string, fields []string) (runner.Item, error) {
	item := runner.Item{}
	if input != "" {
		item["input"] = input
	}

	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", f)
		}
		item[key] = value
	}

	if len(item) == 0 {
		return nil, fmt.Errorf("at least one of --input or --field must be provided")
	}

	return item, nil
}
