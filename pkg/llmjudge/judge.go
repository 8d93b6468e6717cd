// Package llmjudge scores agent output with a model acting as a judge.
package llmjudge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"golang.org/x/time/rate"
)

// Request is a single judging call.
type Request struct {
	Criteria  string
	Reference string
	Input     string
	Output    string
}

// Verdict is what the judge submitted. Score is not clamped here.
type Verdict struct {
	Score          float64 `json:"score"`
	Reason         string  `json:"reason"`
	ChainOfThought string  `json:"chainOfThought,omitempty"`
	TotalTokens    int64   `json:"-"`
}

type Judge interface {
	Score(ctx context.Context, req Request) (*Verdict, error)
	ModelName() string
}

type judgeKey struct{}

// WithJudge attaches a judge that llm-judge evaluators use instead of
// building their own client.
func WithJudge(ctx context.Context, judge Judge) context.Context {
	return context.WithValue(ctx, judgeKey{}, judge)
}

// FromContext returns the judge attached with WithJudge.
func FromContext(ctx context.Context) (Judge, bool) {
	judge, ok := ctx.Value(judgeKey{}).(Judge)
	return judge, ok && judge != nil
}

type openaiJudge struct {
	client  *openai.Client
	model   shared.ChatModel
	limiter *rate.Limiter
}

var _ Judge = &openaiJudge{}

// NewJudge creates an OpenAI-compatible judge for cfg. The returned judge is
// safe for concurrent use.
func NewJudge(cfg *Config, apiKey string) (Judge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm judge config cannot be nil")
	}

	key := cfg.ResolvedAPIKey(apiKey)
	if key == "" {
		return nil, fmt.Errorf("no api key available for llm judge")
	}

	client := openai.NewClient(
		option.WithBaseURL(cfg.ResolvedBaseURL()),
		option.WithAPIKey(key),
	)

	j := &openaiJudge{
		client: &client,
		model:  shared.ChatModel(cfg.ResolvedModel()),
	}
	if cfg.RequestsPerSecond > 0 {
		j.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return j, nil
}

func (j *openaiJudge) ModelName() string {
	return string(j.model)
}

func (j *openaiJudge) Score(ctx context.Context, req Request) (*Verdict, error) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for judge rate limit: %w", err)
		}
	}

	systemPrompt, err := BuildSystemPrompt(SystemPromptData{
		Criteria:  req.Criteria,
		Reference: req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build system prompt: %w", err)
	}

	userPrompt, err := BuildUserPrompt(UserPromptData{
		Input:  req.Input,
		Output: req.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build user prompt: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: j.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Tools:       []openai.ChatCompletionToolUnionParam{submitScoreTool()},
		Temperature: openai.Float(0),
	}

	completion, err := j.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	message := completion.Choices[0].Message

	var args string
	for _, toolCall := range message.ToolCalls {
		if toolCall.Function.Name == submitToolName {
			args = toolCall.Function.Arguments
			break
		}
	}
	// Some OpenAI-compatible servers answer in content instead of calling the tool
	if args == "" {
		args = message.Content
	}

	verdict, err := ParseVerdict(args)
	if err != nil {
		return nil, err
	}
	verdict.TotalTokens = completion.Usage.TotalTokens

	return verdict, nil
}

// ParseVerdict decodes the judge's submission, tolerating a markdown fence.
func ParseVerdict(raw string) (*Verdict, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return nil, fmt.Errorf("judge returned an empty verdict")
	}

	v := &Verdict{}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return nil, fmt.Errorf("failed to parse judge verdict: %w", err)
	}

	return v, nil
}

func submitScoreTool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        submitToolName,
		Description: openai.String("Submit the score for the evaluated model response"),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"score": map[string]any{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
				"reason": map[string]any{
					"type": "string",
				},
				"chainOfThought": map[string]any{
					"type": "string",
				},
			},
			"required": []string{"score", "reason"},
		},
	})
}
