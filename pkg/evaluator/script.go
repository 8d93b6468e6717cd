package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcpchecker/evalkit/pkg/util"
)

const (
	DefaultScriptTimeout = time.Minute
	scriptWaitDelay      = 500 * time.Millisecond
)

// ScriptConfig configures the script kind. The script receives the
// EvalContext as JSON on stdin and the raw output in EVAL_OUTPUT. It must
// print either a JSON EvalResult or a bare number on stdout.
type ScriptConfig struct {
	util.Step
	Timeout string `json:"timeout,omitempty"`
}

func runScript(ctx context.Context, spec Spec, ec *EvalContext, _ string) (*EvalResult, error) {
	cfg := &ScriptConfig{}
	if err := spec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := DefaultScriptTimeout
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timeout: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal eval context: %w", err)
	}

	cmd, cleanup, err := cfg.Command(ctx)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	cmd.Stdin = bytes.NewReader(input)
	// Children of a killed shell may hold the pipes open
	cmd.WaitDelay = scriptWaitDelay
	cmd.Env = append(cmd.Environ(), "EVAL_OUTPUT="+ec.Output)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("script execution failed: %w\noutput: %s", err, stderr.String())
	}

	return parseScriptOutput(stdout.String())
}

func parseScriptOutput(out string) (*EvalResult, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, fmt.Errorf("script produced no output")
	}

	if score, err := strconv.ParseFloat(out, 64); err == nil {
		return &EvalResult{Score: score}, nil
	}

	res := &EvalResult{}
	if err := json.Unmarshal([]byte(out), res); err != nil {
		return nil, fmt.Errorf("script output is neither a number nor a JSON result: %w", err)
	}

	return res, nil
}
