// Package evaluator defines the scoring capability used by experiments and
// the builtin evaluator kinds.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrorReasonPrefix starts the reason of every result produced from a failed
// evaluation.
const ErrorReasonPrefix = "Evaluation error: "

// ScoreFunc is a function-style evaluator.
type ScoreFunc func(ctx context.Context, ec *EvalContext) (*EvalResult, error)

// Evaluator binds a Spec to the handler that scores it.
type Evaluator struct {
	spec     Spec
	registry *Registry
	handler  Handler
}

// New creates an Evaluator that resolves its handler from registry on every
// call.
func New(spec Spec, registry *Registry) *Evaluator {
	return &Evaluator{
		spec:     spec,
		registry: registry,
	}
}

// NewFunc creates a function-style Evaluator that does not need a registry.
func NewFunc(name string, fn ScoreFunc) *Evaluator {
	return &Evaluator{
		spec: Spec{Name: name, Type: KindFunction},
		handler: HandlerFunc(func(ctx context.Context, _ Spec, ec *EvalContext, _ string) (*EvalResult, error) {
			return fn(ctx, ec)
		}),
	}
}

func (e *Evaluator) Name() string {
	return e.spec.Name
}

func (e *Evaluator) Spec() Spec {
	return e.spec
}

// CacheKeyConfig returns the part of the evaluator that determines its
// output for a given input, for use as cache key material.
func (e *Evaluator) CacheKeyConfig() any {
	return map[string]any{
		"name":   e.spec.Name,
		"type":   string(e.spec.EffectiveType()),
		"config": e.spec.Config,
	}
}

// Evaluate scores ec. It never returns an error and never panics: any
// failure becomes a zero score whose reason starts with ErrorReasonPrefix.
func (e *Evaluator) Evaluate(ctx context.Context, ec *EvalContext, apiKey string) (res *EvalResult) {
	defer func() {
		if r := recover(); r != nil {
			res = errorResult(fmt.Errorf("panic: %v", r))
		}
	}()

	handler, err := e.resolve()
	if err != nil {
		return errorResult(err)
	}

	out, err := handler.Evaluate(ctx, e.spec, ec, apiKey)
	if err != nil {
		return errorResult(err)
	}
	if out == nil {
		return errorResult(errors.New("evaluator returned no result"))
	}

	return &EvalResult{
		Score:          Clamp(out.Score),
		Reason:         out.Reason,
		ChainOfThought: out.ChainOfThought,
	}
}

func (e *Evaluator) resolve() (Handler, error) {
	if e.handler != nil {
		return e.handler, nil
	}

	kind := e.spec.EffectiveType()
	if e.registry == nil {
		return nil, fmt.Errorf("no registry configured for evaluator type '%s'", kind)
	}

	h, ok := e.registry.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown evaluator type '%s'", kind)
	}

	return h, nil
}

// IsErrorResult reports whether res was produced by a failed evaluation.
func IsErrorResult(res *EvalResult) bool {
	return res != nil && strings.HasPrefix(res.Reason, ErrorReasonPrefix)
}

// Clamp limits a score to [0,1]. NaN becomes 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

func errorResult(err error) *EvalResult {
	return &EvalResult{
		Score:  0,
		Reason: ErrorReasonPrefix + err.Error(),
	}
}
