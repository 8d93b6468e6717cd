// Package agent provides AgentFunc adapters for common agents under test.
package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/mcpchecker/evalkit/pkg/runner"
)

const (
	// EnvBaseURL and EnvAPIKey are read when OpenAIConfig leaves them empty.
	EnvBaseURL = "MODEL_BASE_URL"
	EnvAPIKey  = "MODEL_KEY"
)

// OpenAIConfig configures an agent backed by an OpenAI-compatible chat
// completions endpoint.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	// Prompt is a template over the item's fields (default "{{ .input }}")
	Prompt      string
	Temperature *float64
}

type openaiAgent struct {
	client       *openai.Client
	model        shared.ChatModel
	systemPrompt string
	prompt       *promptTemplate
	temperature  *float64
}

// OpenAI returns an AgentFunc that sends each rendered prompt as a single
// chat completion and reports the model and token usage.
func OpenAI(cfg OpenAIConfig) (runner.AgentFunc, error) {
	url := cfg.BaseURL
	if url == "" {
		url = os.Getenv(EnvBaseURL)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvAPIKey)
	}
	if url == "" || apiKey == "" {
		return nil, fmt.Errorf("both url and API key must be provided to create an openai agent")
	}

	var chatModel shared.ChatModel
	if cfg.Model == "" {
		chatModel = openai.ChatModelGPT4oMini
	} else {
		chatModel = shared.ChatModel(cfg.Model)
	}

	prompt, err := newPromptTemplate(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(
		option.WithBaseURL(url),
		option.WithAPIKey(apiKey),
	)

	a := &openaiAgent{
		client:       &client,
		model:        chatModel,
		systemPrompt: cfg.SystemPrompt,
		prompt:       prompt,
		temperature:  cfg.Temperature,
	}

	return a.Run, nil
}

func (o *openaiAgent) Run(ctx context.Context, item runner.Item, _, _ int) (*runner.AgentOutput, error) {
	text, err := o.prompt.render(item)
	if err != nil {
		return nil, err
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if o.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(o.systemPrompt))
	}
	messages = append(messages, openai.UserMessage(text))

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if o.temperature != nil {
		params.Temperature = openai.Float(*o.temperature)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	model := completion.Model
	if model == "" {
		model = string(o.model)
	}

	return &runner.AgentOutput{
		Output: completion.Choices[0].Message.Content,
		Model:  model,
		Usage: &runner.TokenUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Metadata: map[string]any{
			"finishReason": completion.Choices[0].FinishReason,
		},
	}, nil
}
