package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind identifies a scoring capability in a Registry.
type Kind string

const (
	KindLLMJudge   Kind = "llm-judge"
	KindExactMatch Kind = "exact-match"
	KindContains   Kind = "contains"
	KindRegex      Kind = "regex"
	KindJSONSchema Kind = "json-schema"
	KindScript     Kind = "script"
	KindHTTP       Kind = "http"
	KindFunction   Kind = "function"

	// DefaultKind is used when a Spec does not name a type.
	DefaultKind = KindLLMJudge
)

// EvalContext is what an evaluator sees for a single unit of work.
type EvalContext struct {
	Item     map[string]any `json:"item"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EvalResult is the outcome of one evaluator invocation. Score is always
// within [0,1] once it leaves an Evaluator.
type EvalResult struct {
	Score          float64 `json:"score"`
	Reason         string  `json:"reason,omitempty"`
	ChainOfThought string  `json:"chainOfThought,omitempty"`
}

// Spec configures a single evaluator. On the wire it is a flat object:
// "name" and "type" are reserved, every other key is type specific config.
type Spec struct {
	Name   string         `json:"name"`
	Type   Kind           `json:"type,omitempty"`
	Config map[string]any `json:"-"`
}

// Handler is the capability registered for a Kind.
//
// Well-behaved handlers return a zero score with a reason on recoverable
// failures. Returning an error is tolerated: the Evaluator wrapper converts
// it into a zero score.
type Handler interface {
	Evaluate(ctx context.Context, spec Spec, ec *EvalContext, apiKey string) (*EvalResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, spec Spec, ec *EvalContext, apiKey string) (*EvalResult, error)

func (f HandlerFunc) Evaluate(ctx context.Context, spec Spec, ec *EvalContext, apiKey string) (*EvalResult, error) {
	return f(ctx, spec, ec, apiKey)
}

// EffectiveType returns the spec type, falling back to DefaultKind.
func (s Spec) EffectiveType() Kind {
	if s.Type == "" {
		return DefaultKind
	}
	return s.Type
}

// Decode converts the type specific config into the given struct.
func (s Spec) Decode(into any) error {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for evaluator '%s': %w", s.Name, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to decode config for evaluator '%s': %w", s.Name, err)
	}
	return nil
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	name, ok := fields["name"].(string)
	if !ok && fields["name"] != nil {
		return fmt.Errorf("evaluator name must be a string")
	}
	typ, ok := fields["type"].(string)
	if !ok && fields["type"] != nil {
		return fmt.Errorf("evaluator type must be a string")
	}
	delete(fields, "name")
	delete(fields, "type")

	s.Name = name
	s.Type = Kind(typ)
	s.Config = nil
	if len(fields) > 0 {
		s.Config = fields
	}

	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Config)+2)
	for k, v := range s.Config {
		out[k] = v
	}
	out["name"] = s.Name
	if s.Type != "" {
		out["type"] = string(s.Type)
	}
	return json.Marshal(out)
}
