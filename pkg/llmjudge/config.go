package llmjudge

import (
	"fmt"
	"os"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Config describes both the judge endpoint and the criterion it scores.
// It is decoded from the flat config of an llm-judge evaluator.
type Config struct {
	// Endpoint
	BaseURL string     `json:"baseUrl,omitempty"`
	Model   string     `json:"model,omitempty"`
	Env     *EnvConfig `json:"env,omitempty"`
	// RequestsPerSecond throttles calls made through one judge; 0 disables it
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty"`

	// Criterion
	Criteria       string `json:"criteria,omitempty"`
	Reference      string `json:"reference,omitempty"`
	ReferenceField string `json:"referenceField,omitempty"`
	InputField     string `json:"inputField,omitempty"`
}

// EnvConfig names environment variables holding endpoint settings, so that
// experiment files never contain secrets.
type EnvConfig struct {
	BaseUrlKey   string `json:"baseUrlKey,omitempty"`
	ApiKeyKey    string `json:"apiKeyKey,omitempty"`
	ModelNameKey string `json:"modelNameKey,omitempty"`
}

func (cfg *Config) Validate() error {
	if cfg.Criteria == "" {
		return fmt.Errorf("criteria must be specified for an llm judge")
	}

	if cfg.Reference != "" && cfg.ReferenceField != "" {
		return fmt.Errorf("only one of reference or referenceField can be specified, not both")
	}

	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requestsPerSecond cannot be negative")
	}

	return nil
}

func (cfg *Config) ResolvedBaseURL() string {
	if cfg.Env != nil && cfg.Env.BaseUrlKey != "" {
		if v := os.Getenv(cfg.Env.BaseUrlKey); v != "" {
			return v
		}
	}
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return DefaultBaseURL
}

// ResolvedAPIKey prefers the key passed in by the experiment, then the
// configured environment variable.
func (cfg *Config) ResolvedAPIKey(apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if cfg.Env != nil && cfg.Env.ApiKeyKey != "" {
		return os.Getenv(cfg.Env.ApiKeyKey)
	}
	return ""
}

func (cfg *Config) ResolvedModel() string {
	if cfg.Env != nil && cfg.Env.ModelNameKey != "" {
		if v := os.Getenv(cfg.Env.ModelNameKey); v != "" {
			return v
		}
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return DefaultModel
}
