package agent

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/mcpchecker/evalkit/pkg/llmjudge"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/util"
)

const (
	KindAgent = "Agent"

	TypeCommand = "command"
	TypeOpenAI  = "openai"
)

// Spec declares the agent under test in an experiment file, either inline
// or as a standalone file of kind Agent.
type Spec struct {
	util.TypeMeta
	Type string `json:"type"`

	// Prompt is a template over the item's fields (default "{{ .input }}")
	Prompt string `json:"prompt,omitempty"`

	// command
	Command string `json:"command,omitempty"`
	Dir     string `json:"dir,omitempty"`

	// openai
	BaseURL      string              `json:"baseUrl,omitempty"`
	Model        string              `json:"model,omitempty"`
	SystemPrompt string              `json:"systemPrompt,omitempty"`
	Temperature  *float64            `json:"temperature,omitempty"`
	Env          *llmjudge.EnvConfig `json:"env,omitempty"`
}

func (s *Spec) Validate() error {
	switch s.Type {
	case TypeCommand:
		if s.Command == "" {
			return fmt.Errorf("agent type '%s' requires a command", TypeCommand)
		}
	case TypeOpenAI:
	default:
		return fmt.Errorf("unknown agent type '%s': expected '%s' or '%s'", s.Type, TypeCommand, TypeOpenAI)
	}
	return nil
}

// ModelName is the model recorded in reports, if the spec names one.
func (s *Spec) ModelName() string {
	if s.Env != nil && s.Env.ModelNameKey != "" {
		if v := os.Getenv(s.Env.ModelNameKey); v != "" {
			return v
		}
	}
	return s.Model
}

// Build creates the AgentFunc described by the spec.
func (s *Spec) Build() (runner.AgentFunc, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if s.Type == TypeCommand {
		return Command(CommandConfig{
			Command: s.Command,
			Prompt:  s.Prompt,
			Dir:     s.Dir,
		})
	}

	cfg := OpenAIConfig{
		BaseURL:      s.BaseURL,
		Model:        s.ModelName(),
		SystemPrompt: s.SystemPrompt,
		Prompt:       s.Prompt,
		Temperature:  s.Temperature,
	}
	if s.Env != nil {
		if s.Env.BaseUrlKey != "" {
			if v := os.Getenv(s.Env.BaseUrlKey); v != "" {
				cfg.BaseURL = v
			}
		}
		if s.Env.ApiKeyKey != "" {
			cfg.APIKey = os.Getenv(s.Env.ApiKeyKey)
		}
	}

	return OpenAI(cfg)
}

func Read(data []byte) (*Spec, error) {
	spec := &Spec{}

	err := yaml.Unmarshal(data, spec)
	if err != nil {
		return nil, err
	}

	if err := spec.TypeMeta.Validate(KindAgent); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}

func FromFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s' for agent spec: %w", path, err)
	}

	return Read(data)
}
