package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/mcpchecker/evalkit/pkg/agent"
	"github.com/mcpchecker/evalkit/pkg/cache"
	"github.com/mcpchecker/evalkit/pkg/dataset"
	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/summary"
	"github.com/mcpchecker/evalkit/pkg/util"
)

const (
	KindExperiment = "Experiment"

	DefaultOutputDir = "results"
	DefaultCacheFile = ".evalkit-cache.json"
)

// Spec is an experiment file.
type Spec struct {
	util.TypeMeta
	Metadata   Metadata         `json:"metadata"`
	Dataset    DatasetSpec      `json:"dataset"`
	Agent      AgentRef         `json:"agent"`
	Evaluators []evaluator.Spec `json:"evaluators"`
	Settings   SettingsSpec     `json:"settings"`

	// Thresholds override entries of the same name in ThresholdsFile
	Thresholds     gate.Thresholds `json:"thresholds,omitempty"`
	ThresholdsFile string          `json:"thresholdsFile,omitempty"`

	Cache   *CacheSpec              `json:"cache,omitempty"`
	Pricing map[string]summary.Rate `json:"pricing,omitempty"`
	Output  OutputSpec              `json:"output"`
}

type Metadata struct {
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// DatasetSpec sets exactly one of File or Items.
type DatasetSpec struct {
	File  string        `json:"file,omitempty"`
	Items []runner.Item `json:"items,omitempty"`
}

// AgentRef is either a path to an Agent file or an inline agent spec.
type AgentRef struct {
	File string `json:"file,omitempty"`
	agent.Spec
}

type SettingsSpec struct {
	Concurrency int    `json:"concurrency,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	Runs        int    `json:"runs,omitempty"`
	Model       string `json:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the evaluators' API key
	APIKeyEnv string `json:"apiKeyEnv,omitempty"`
}

type CacheSpec struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	TTL     string `json:"ttl,omitempty"`
}

type OutputSpec struct {
	Dir string `json:"dir,omitempty"`
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	type Doppleganger Spec

	tmp := (*Doppleganger)(s)
	return util.UnmarshalWithKind(data, tmp, KindExperiment)
}

func Read(data []byte, basePath string) (*Spec, error) {
	spec := &Spec{}

	err := yaml.Unmarshal(data, spec)
	if err != nil {
		return nil, err
	}

	// Convert all relative file paths to absolute paths
	for _, p := range []*string{
		&spec.Dataset.File,
		&spec.Agent.File,
		&spec.Agent.Dir,
		&spec.ThresholdsFile,
		&spec.Output.Dir,
	} {
		resolveFilePath(p, basePath)
	}
	if spec.Cache != nil {
		resolveFilePath(&spec.Cache.Path, basePath)
	}

	for i := range spec.Evaluators {
		ev := &spec.Evaluators[i]
		if ev.EffectiveType() != evaluator.KindScript {
			continue
		}
		if file, ok := ev.Config["file"].(string); ok {
			resolveFilePath(&file, basePath)
			ev.Config["file"] = file
		}
	}

	return spec, nil
}

func resolveFilePath(filePath *string, basePath string) {
	if filePath == nil || *filePath == "" {
		return
	}

	// If the path is already absolute, leave it as-is
	if filepath.IsAbs(*filePath) {
		return
	}

	*filePath = filepath.Join(basePath, *filePath)
}

func FromFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s' for experiment spec: %w", path, err)
	}

	// Convert to absolute path to ensure basePath is absolute
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", path, err)
	}

	return Read(data, filepath.Dir(absPath))
}

// Experiment builds the runnable experiment described by the spec.
func (s *Spec) Experiment() (*Experiment, error) {
	ds, err := s.dataset()
	if err != nil {
		return nil, err
	}

	agentFn, model, err := s.agent()
	if err != nil {
		return nil, err
	}

	thresholds, err := s.thresholds()
	if err != nil {
		return nil, err
	}

	settings := Settings{
		Concurrency: s.Settings.Concurrency,
		Runs:        s.Settings.Runs,
		Model:       s.Settings.Model,
	}
	if settings.Model == "" {
		settings.Model = model
	}
	if s.Settings.Timeout != "" {
		settings.Timeout, err = time.ParseDuration(s.Settings.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timeout: %w", err)
		}
	}
	if s.Settings.APIKeyEnv != "" {
		settings.APIKey = os.Getenv(s.Settings.APIKeyEnv)
	}

	return &Experiment{
		Name:       s.Metadata.Name,
		Tags:       s.Metadata.Tags,
		Dataset:    ds,
		Agent:      agentFn,
		Evaluators: s.Evaluators,
		Settings:   settings,
		Thresholds: thresholds,
	}, nil
}

func (s *Spec) dataset() (dataset.Dataset, error) {
	switch {
	case s.Dataset.File != "" && len(s.Dataset.Items) > 0:
		return nil, fmt.Errorf("only one of dataset file or items can be specified, not both")
	case s.Dataset.File != "":
		return dataset.FromFile(s.Dataset.File), nil
	case len(s.Dataset.Items) > 0:
		return dataset.Static(s.Dataset.Items), nil
	default:
		return nil, fmt.Errorf("a dataset file or inline items must be specified")
	}
}

func (s *Spec) agent() (runner.AgentFunc, string, error) {
	spec := &s.Agent.Spec
	if s.Agent.File != "" {
		var err error
		spec, err = agent.FromFile(s.Agent.File)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load agent: %w", err)
		}
	}

	agentFn, err := spec.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create agent: %w", err)
	}

	return agentFn, spec.ModelName(), nil
}

func (s *Spec) thresholds() (gate.Thresholds, error) {
	thresholds := gate.Thresholds{}
	if s.ThresholdsFile != "" {
		fromFile, err := gate.LoadThresholds(s.ThresholdsFile)
		if err != nil {
			return nil, err
		}
		maps.Copy(thresholds, fromFile)
	}
	maps.Copy(thresholds, s.Thresholds)

	return thresholds, nil
}

// Options returns the orchestrator options the spec asks for: a persistent
// cache, pricing and report storage.
func (s *Spec) Options(ctx context.Context, logger *slog.Logger) ([]Option, error) {
	var opts []Option

	if s.Cache != nil && s.Cache.Enabled {
		path := s.Cache.Path
		if path == "" {
			path = DefaultCacheFile
		}

		c, err := cache.Open(ctx, cache.Options{
			TTL:    s.Cache.TTL,
			Store:  cache.NewFileStore(path),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(c))
	}

	if len(s.Pricing) > 0 {
		opts = append(opts, WithPricing(summary.RatePricing(s.Pricing)))
	}

	if s.Output.Dir != "" {
		opts = append(opts, WithStorage(results.NewFileStorage(s.Output.Dir)))
	}

	return opts, nil
}
