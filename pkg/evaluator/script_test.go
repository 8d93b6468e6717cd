package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptHandler(t *testing.T) {
	tt := map[string]struct {
		config       map[string]any
		output       string
		expectScore  float64
		expectReason string
		expectError  bool
	}{
		"bare number": {
			config:      map[string]any{"inline": `echo 0.25`},
			expectScore: 0.25,
		},
		"json result": {
			config:       map[string]any{"inline": `echo '{"score": 0.9, "reason": "looks right"}'`},
			expectScore:  0.9,
			expectReason: "looks right",
		},
		"reads output from env": {
			config:      map[string]any{"inline": `if [ "$EVAL_OUTPUT" = "yes" ]; then echo 1; else echo 0; fi`},
			output:      "yes",
			expectScore: 1,
		},
		"reads context from stdin": {
			config:      map[string]any{"inline": `grep -q '"output":"stdin-check"' && echo 1 || echo 0`},
			output:      "stdin-check",
			expectScore: 1,
		},
		"shebang script": {
			config:      map[string]any{"inline": "#!/bin/sh\necho 0.5\n"},
			expectScore: 0.5,
		},
		"non zero exit": {
			config:       map[string]any{"inline": `echo broken >&2; exit 3`},
			expectReason: "script execution failed",
			expectError:  true,
		},
		"garbage output": {
			config:       map[string]any{"inline": `echo maybe`},
			expectReason: "neither a number nor a JSON result",
			expectError:  true,
		},
		"no output": {
			config:       map[string]any{"inline": `true`},
			expectReason: "script produced no output",
			expectError:  true,
		},
		"times out": {
			config:       map[string]any{"inline": `sleep 5; echo 1`, "timeout": "50ms"},
			expectReason: "script execution failed",
			expectError:  true,
		},
		"both inline and file": {
			config:       map[string]any{"inline": `echo 1`, "file": "score.sh"},
			expectReason: "exactly one of 'file' or 'inline'",
			expectError:  true,
		},
		"neither inline nor file": {
			config:       map[string]any{},
			expectReason: "a script must be given as 'file' or 'inline'",
			expectError:  true,
		},
	}

	t.Setenv("SHELL", "/bin/sh")
	reg := NewDefaultRegistry(nil)
	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			ev := New(Spec{Name: "script", Type: KindScript, Config: tc.config}, reg)
			res := ev.Evaluate(context.Background(), &EvalContext{Output: tc.output}, "")

			assert.Equal(t, tc.expectError, IsErrorResult(res), res.Reason)
			assert.Equal(t, tc.expectScore, res.Score)
			if tc.expectReason != "" {
				assert.Contains(t, res.Reason, tc.expectReason)
			}
		})
	}
}

func TestScriptHandler_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "score.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 0.3\n"), 0o644))

	ev := New(Spec{Name: "file", Type: KindScript, Config: map[string]any{"file": path}}, NewDefaultRegistry(nil))
	res := ev.Evaluate(context.Background(), &EvalContext{}, "")

	assert.False(t, IsErrorResult(res), res.Reason)
	assert.Equal(t, 0.3, res.Score)
}

func TestParseScriptOutput(t *testing.T) {
	tt := map[string]struct {
		in        string
		expect    *EvalResult
		expectErr bool
	}{
		"integer":      {in: "1\n", expect: &EvalResult{Score: 1}},
		"float":        {in: " 0.125 ", expect: &EvalResult{Score: 0.125}},
		"json":         {in: `{"score":0.4,"chainOfThought":"hmm"}`, expect: &EvalResult{Score: 0.4, ChainOfThought: "hmm"}},
		"empty":        {in: "  ", expectErr: true},
		"not a result": {in: "pass", expectErr: true},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got, err := parseScriptOutput(tc.in)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}
