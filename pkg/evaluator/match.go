package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MatchConfig is shared by the exact-match, contains and regex kinds.
// Exactly one of Expected or ExpectedField must be set.
type MatchConfig struct {
	// Expected is a literal reference value (or pattern for regex)
	Expected string `json:"expected,omitempty"`
	// ExpectedField names the item key holding the reference value
	ExpectedField string `json:"expectedField,omitempty"`

	CaseSensitive *bool `json:"caseSensitive,omitempty"`
	Trim          *bool `json:"trim,omitempty"`
}

func (cfg *MatchConfig) Validate() error {
	if cfg.Expected == "" && cfg.ExpectedField == "" {
		return fmt.Errorf("one of expected or expectedField must be specified")
	}

	if cfg.Expected != "" && cfg.ExpectedField != "" {
		return fmt.Errorf("only one of expected or expectedField can be specified, not both")
	}

	return nil
}

func (cfg *MatchConfig) reference(item map[string]any) (string, error) {
	if cfg.Expected != "" {
		return cfg.Expected, nil
	}

	v, ok := item[cfg.ExpectedField]
	if !ok {
		return "", fmt.Errorf("item has no field '%s'", cfg.ExpectedField)
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", fmt.Errorf("item field '%s' is null", cfg.ExpectedField)
	default:
		return fmt.Sprint(val), nil
	}
}

func (cfg *MatchConfig) normalize(s string) string {
	if cfg.Trim == nil || *cfg.Trim {
		s = strings.TrimSpace(s)
	}
	if cfg.CaseSensitive != nil && !*cfg.CaseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func parseMatchConfig(spec Spec) (*MatchConfig, error) {
	cfg := &MatchConfig{}
	if err := spec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func exactMatch(_ context.Context, spec Spec, ec *EvalContext, _ string) (*EvalResult, error) {
	cfg, err := parseMatchConfig(spec)
	if err != nil {
		return nil, err
	}

	ref, err := cfg.reference(ec.Item)
	if err != nil {
		return nil, err
	}

	if cfg.normalize(ec.Output) == cfg.normalize(ref) {
		return &EvalResult{Score: 1, Reason: "output matches expected value"}, nil
	}

	return &EvalResult{Score: 0, Reason: "output does not match expected value"}, nil
}

func contains(_ context.Context, spec Spec, ec *EvalContext, _ string) (*EvalResult, error) {
	cfg, err := parseMatchConfig(spec)
	if err != nil {
		return nil, err
	}

	ref, err := cfg.reference(ec.Item)
	if err != nil {
		return nil, err
	}

	if strings.Contains(cfg.normalize(ec.Output), cfg.normalize(ref)) {
		return &EvalResult{Score: 1, Reason: fmt.Sprintf("output contains %q", ref)}, nil
	}

	return &EvalResult{Score: 0, Reason: fmt.Sprintf("output does not contain %q", ref)}, nil
}

func regexMatch(_ context.Context, spec Spec, ec *EvalContext, _ string) (*EvalResult, error) {
	cfg, err := parseMatchConfig(spec)
	if err != nil {
		return nil, err
	}

	pattern, err := cfg.reference(ec.Item)
	if err != nil {
		return nil, err
	}
	if cfg.CaseSensitive != nil && !*cfg.CaseSensitive {
		pattern = "(?i)" + pattern
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern: %w", err)
	}

	output := ec.Output
	if cfg.Trim == nil || *cfg.Trim {
		output = strings.TrimSpace(output)
	}

	if rx.MatchString(output) {
		return &EvalResult{Score: 1, Reason: fmt.Sprintf("output matches /%s/", pattern)}, nil
	}

	return &EvalResult{Score: 0, Reason: fmt.Sprintf("output does not match /%s/", pattern)}, nil
}
