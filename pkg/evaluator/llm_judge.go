package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpchecker/evalkit/pkg/llmjudge"
	"github.com/mcpchecker/evalkit/pkg/util"
)

// LLMJudgeHandler implements the llm-judge kind. A judge attached to the
// context with llmjudge.WithJudge takes precedence; otherwise one judge is
// built per endpoint, model and key and reused across calls.
type LLMJudgeHandler struct {
	mu     sync.Mutex
	judges map[string]llmjudge.Judge
	// newJudge is swapped in tests
	newJudge func(cfg *llmjudge.Config, apiKey string) (llmjudge.Judge, error)
}

var _ Handler = &LLMJudgeHandler{}

func NewLLMJudgeHandler() *LLMJudgeHandler {
	return &LLMJudgeHandler{
		judges:   make(map[string]llmjudge.Judge),
		newJudge: llmjudge.NewJudge,
	}
}

func (h *LLMJudgeHandler) Evaluate(ctx context.Context, spec Spec, ec *EvalContext, apiKey string) (*EvalResult, error) {
	cfg := &llmjudge.Config{}
	if err := spec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	judge, err := h.judgeFor(ctx, cfg, apiKey)
	if err != nil {
		return nil, err
	}

	reference, err := judgeReference(cfg, ec.Item)
	if err != nil {
		return nil, err
	}

	input, err := judgeInput(cfg, ec.Item)
	if err != nil {
		return nil, err
	}

	logger := util.Logger(ctx)
	logger.Debug("llm judge evaluating", "evaluator", spec.Name, "judge", judge.ModelName())

	verdict, err := judge.Score(ctx, llmjudge.Request{
		Criteria:  cfg.Criteria,
		Reference: reference,
		Input:     input,
		Output:    ec.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call llm judge: %w", err)
	}

	if util.IsVerbose(ctx) {
		logger.Debug("llm judge verdict", "evaluator", spec.Name, "score", verdict.Score, "chainOfThought", verdict.ChainOfThought)
	}

	return &EvalResult{
		Score:          verdict.Score,
		Reason:         verdict.Reason,
		ChainOfThought: verdict.ChainOfThought,
	}, nil
}

func (h *LLMJudgeHandler) judgeFor(ctx context.Context, cfg *llmjudge.Config, apiKey string) (llmjudge.Judge, error) {
	if judge, ok := llmjudge.FromContext(ctx); ok {
		return judge, nil
	}

	key := fmt.Sprintf("%s|%s|%s|%g", cfg.ResolvedBaseURL(), cfg.ResolvedModel(), cfg.ResolvedAPIKey(apiKey), cfg.RequestsPerSecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	if judge, ok := h.judges[key]; ok {
		return judge, nil
	}

	judge, err := h.newJudge(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm judge: %w", err)
	}
	h.judges[key] = judge

	return judge, nil
}

func judgeReference(cfg *llmjudge.Config, item map[string]any) (string, error) {
	if cfg.ReferenceField == "" {
		return cfg.Reference, nil
	}

	v, ok := item[cfg.ReferenceField]
	if !ok {
		return "", fmt.Errorf("item has no field '%s'", cfg.ReferenceField)
	}
	return stringify(v)
}

// judgeInput renders the part of the item shown to the judge as the prompt.
func judgeInput(cfg *llmjudge.Config, item map[string]any) (string, error) {
	if cfg.InputField != "" {
		v, ok := item[cfg.InputField]
		if !ok {
			return "", fmt.Errorf("item has no field '%s'", cfg.InputField)
		}
		return stringify(v)
	}

	return stringify(item)
}

func stringify(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to render value: %w", err)
	}
	return string(b), nil
}
