package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// JSONSchemaConfig configures the json-schema kind.
type JSONSchemaConfig struct {
	Schema map[string]any `json:"schema"`
	// ExtractJSON strips a surrounding markdown code fence before parsing
	ExtractJSON bool `json:"extractJson,omitempty"`
}

// JSONSchemaHandler scores 1 when the output parses as JSON and validates
// against the configured schema. Resolved schemas are memoized by their
// canonical JSON, so a handler is safe for concurrent use.
type JSONSchemaHandler struct {
	resolved sync.Map // string -> *jsonschema.Resolved
}

var _ Handler = &JSONSchemaHandler{}

func NewJSONSchemaHandler() *JSONSchemaHandler {
	return &JSONSchemaHandler{}
}

func (h *JSONSchemaHandler) Evaluate(_ context.Context, spec Spec, ec *EvalContext, _ string) (*EvalResult, error) {
	cfg := &JSONSchemaConfig{}
	if err := spec.Decode(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Schema) == 0 {
		return nil, fmt.Errorf("schema must be specified")
	}

	rs, err := h.resolve(cfg.Schema)
	if err != nil {
		return nil, err
	}

	output := ec.Output
	if cfg.ExtractJSON {
		output = stripCodeFence(output)
	}

	var instance any
	if err := json.Unmarshal([]byte(output), &instance); err != nil {
		return &EvalResult{Score: 0, Reason: fmt.Sprintf("output is not valid JSON: %s", err)}, nil
	}

	if err := rs.Validate(instance); err != nil {
		return &EvalResult{Score: 0, Reason: fmt.Sprintf("output does not match schema: %s", err)}, nil
	}

	return &EvalResult{Score: 1, Reason: "output matches schema"}, nil
}

func (h *JSONSchemaHandler) resolve(raw map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	key := string(data)
	if rs, ok := h.resolved.Load(key); ok {
		return rs.(*jsonschema.Resolved), nil
	}

	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	rs, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}

	h.resolved.Store(key, rs)
	return rs, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
