package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/stats"
)

func TestViewCommand(t *testing.T) {
	filePath := createTestResultsFile(t, sampleReport())

	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantOutput  []string
		wantMissing []string
	}{
		{
			name: "all items",
			args: []string{filePath},
			wantOutput: []string{
				"Item: france",
				"Status: PASSED",
				"Item: japan",
				"✗ accuracy: 0.20",
				"expected Tokyo",
				"Status: FAILED (agent error)",
			},
		},
		{
			name:        "item filter",
			args:        []string{filePath, "--item", "japan"},
			wantOutput:  []string{"Item: japan", "Output: Kyoto"},
			wantMissing: []string{"Item: france"},
		},
		{
			name:        "failed only",
			args:        []string{filePath, "--failed"},
			wantOutput:  []string{"Item: japan", "Item: peru"},
			wantMissing: []string{"Item: france"},
		},
		{
			name:    "no match",
			args:    []string{filePath, "--item", "atlantis"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewViewCmd()
			cmd.SetArgs(tt.args)

			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(new(bytes.Buffer))

			err := cmd.Execute()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("view command failed: %v", err)
			}

			out := buf.String()
			for _, want := range tt.wantOutput {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, missing := range tt.wantMissing {
				if strings.Contains(out, missing) {
					t.Errorf("output should not contain %q:\n%s", missing, out)
				}
			}
		})
	}
}

func TestPrintItemResultMultiRun(t *testing.T) {
	item := &runner.ItemResult{
		Index:  0,
		Input:  runner.Item{"id": "flaky"},
		Output: "Paris",
		Evaluations: map[string]*evaluator.EvalResult{
			"accuracy": {Score: 0.5},
		},
		Runs: []*runner.SingleRun{
			{RunIndex: 0, Output: "Paris", LatencyMs: 10, Evaluations: map[string]*evaluator.EvalResult{"accuracy": {Score: 1}}},
			{RunIndex: 1, Error: "agent invocation failed: exit status 1", LatencyMs: 5},
			{RunIndex: 2, Output: "Lyon", LatencyMs: 12, Evaluations: map[string]*evaluator.EvalResult{"accuracy": {Score: 0}}},
		},
		Aggregated: map[string]stats.RunAggregation{
			"accuracy": {Mean: 0.5, StdDev: 0.5, Min: 0, Max: 1, P50: 0.5, Scores: []float64{1, 0}},
		},
	}

	buf := new(bytes.Buffer)
	printItemResult(buf, item, viewOptions{showRuns: true, maxOutputLines: 2, maxLineLength: 80})

	out := buf.String()
	for _, want := range []string{
		"Status: PASSED (1/3 runs failed)",
		"accuracy: mean 0.500 ± 0.500 (min 0.000, max 1.000, p50 0.500)",
		"#0 ok 10ms",
		"#1 error 5ms",
		"agent invocation failed: exit status 1",
		"→ Lyon",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLimitMultiline(t *testing.T) {
	tests := map[string]struct {
		raw      string
		maxLines int
		maxLen   int
		expected string
	}{
		"empty": {
			raw:      "\n",
			expected: "",
		},
		"under limit": {
			raw:      "a\nb",
			maxLines: 3,
			expected: "a\nb",
		},
		"over limit": {
			raw:      "a\nb\nc\nd",
			maxLines: 2,
			expected: "a\nb\n… (+2 lines)",
		},
		"wraps long lines": {
			raw:      "one two three",
			maxLen:   7,
			expected: "one two\nthree",
		},
	}

	for tn, tc := range tests {
		t.Run(tn, func(t *testing.T) {
			if got := limitMultiline(tc.raw, tc.maxLines, tc.maxLen); got != tc.expected {
				t.Errorf("limitMultiline() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("hello world", 6); got != "hello…" {
		t.Errorf("truncateString() = %q, want %q", got, "hello…")
	}
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("truncateString() = %q, want %q", got, "short")
	}
}
