// Package experiment wires a dataset, an agent and a set of evaluators into
// a complete experiment run: scheduling, aggregation, threshold checks and
// persistence.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcpchecker/evalkit/pkg/cache"
	"github.com/mcpchecker/evalkit/pkg/dataset"
	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/summary"
)

// Storage persists finished reports.
type Storage interface {
	Save(ctx context.Context, report *results.Report) error
}

var _ Storage = &results.FileStorage{}

// Settings tune how an experiment is executed. Zero values take the runner
// defaults.
type Settings struct {
	Concurrency int
	Timeout     time.Duration
	Runs        int
	// Model is recorded in the report
	Model string
	// APIKey is handed to evaluators that call a model. It is never persisted.
	APIKey string
}

// Experiment is everything needed for one run.
type Experiment struct {
	Name       string
	Tags       []string
	Dataset    dataset.Dataset
	Agent      runner.AgentFunc
	Evaluators []evaluator.Spec
	// Functions backs evaluators of type "function", keyed by evaluator name
	Functions  map[string]evaluator.ScoreFunc
	Settings   Settings
	Thresholds gate.Thresholds
}

// ConfigurationError is returned before any unit is scheduled when an
// experiment cannot run as configured.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid experiment configuration: %s", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Orchestrator runs experiments. It holds no per-run state and may run
// several experiments concurrently.
type Orchestrator struct {
	registry  *evaluator.Registry
	cache     *cache.Cache
	storage   Storage
	pricing   summary.PricingFunc
	logger    *slog.Logger
	observers []ProgressCallback
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithCache memoizes evaluator results across units and experiments.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithStorage persists every report. A storage failure fails the run.
func WithStorage(s Storage) Option {
	return func(o *Orchestrator) {
		o.storage = s
	}
}

// WithPricing estimates the cost of reported token usage.
func WithPricing(p summary.PricingFunc) Option {
	return func(o *Orchestrator) {
		o.pricing = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithObserver adds a progress observer. Observers are called in the order
// they were added.
func WithObserver(cb ProgressCallback) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, cb)
	}
}

// WithClock replaces time.Now for report timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator resolving evaluator types from registry, or
// from the builtin kinds when registry is nil.
func New(registry *evaluator.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = evaluator.NewDefaultRegistry(o.logger)
	}

	return o
}

// Run executes exp and returns its report.
//
// Configuration problems are reported as *ConfigurationError before any
// agent call. Once units are scheduled every outcome is encoded in the
// report. If ctx is cancelled mid-run, the partial report is still built and
// stored, and returned together with the context error. A storage failure
// returns the report together with the error.
func (o *Orchestrator) Run(ctx context.Context, exp *Experiment) (*results.Report, error) {
	if err := o.validate(exp); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	items, err := exp.Dataset.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if len(items) == 0 {
		return nil, &ConfigurationError{Err: errors.New("dataset has no items")}
	}

	evaluators := o.evaluators(exp)
	opts := runner.Options{
		Concurrency: exp.Settings.Concurrency,
		Timeout:     exp.Settings.Timeout,
		Runs:        exp.Settings.Runs,
		Evaluators:  evaluators,
		Cache:       o.cache,
		APIKey:      exp.Settings.APIKey,
		Logger:      o.logger,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = runner.DefaultConcurrency
	}
	if opts.Runs == 0 {
		opts.Runs = runner.DefaultRuns
	}
	opts.OnProgress = func(p runner.Progress) {
		o.notify(ProgressEvent{
			Type:       EventUnitComplete,
			Experiment: exp.Name,
			Progress:   &p,
		})
	}

	o.logger.Info("starting experiment",
		"experiment", exp.Name,
		"items", len(items),
		"runs", opts.Runs,
		"concurrency", opts.Concurrency,
		"evaluators", len(evaluators),
	)
	o.notify(ProgressEvent{
		Type:       EventExperimentStart,
		Experiment: exp.Name,
		Message:    fmt.Sprintf("Running %d items x %d runs", len(items), opts.Runs),
		Total:      len(items) * opts.Runs,
	})

	start := o.now()
	itemResults := runner.Run(ctx, items, exp.Agent, opts)
	duration := o.now().Sub(start)

	report := &results.Report{
		ID:        uuid.NewString(),
		Name:      exp.Name,
		Timestamp: start,
		Tags:      exp.Tags,
		Config: results.Config{
			Concurrency: opts.Concurrency,
			TimeoutMs:   opts.Timeout.Milliseconds(),
			Runs:        opts.Runs,
			Model:       exp.Settings.Model,
			Evaluators:  exp.Evaluators,
		},
		Summary: summary.Build(itemResults, duration, o.pricing),
		Items:   itemResults,
	}

	if len(exp.Thresholds) > 0 {
		report.CI = gate.Validate(report.Summary, itemResults, exp.Thresholds)
		o.notify(ProgressEvent{
			Type:       EventGateChecked,
			Experiment: exp.Name,
			Message:    report.CI.Summary,
			Gate:       report.CI,
		})
	}

	if o.cache != nil {
		if err := o.cache.Flush(ctx); err != nil {
			o.logger.Warn("failed to persist evaluation cache", "error", err)
		}
	}

	if o.storage != nil {
		if err := o.storage.Save(ctx, report); err != nil {
			return report, fmt.Errorf("failed to save report: %w", err)
		}
	}

	o.logger.Info("experiment complete",
		"experiment", exp.Name,
		"id", report.ID,
		"duration", duration,
		"failedRuns", report.Summary.FailedRuns,
	)
	o.notify(ProgressEvent{
		Type:       EventExperimentComplete,
		Experiment: exp.Name,
		Message:    fmt.Sprintf("Completed in %s", duration.Round(time.Millisecond)),
		Report:     report,
	})

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("experiment interrupted: %w", err)
	}

	return report, nil
}

func (o *Orchestrator) validate(exp *Experiment) error {
	if exp == nil {
		return errors.New("experiment cannot be nil")
	}

	var err error
	if exp.Agent == nil {
		err = errors.Join(err, errors.New("an agent must be provided"))
	}
	if exp.Dataset == nil {
		err = errors.Join(err, errors.New("a dataset must be provided"))
	}
	if len(exp.Evaluators) == 0 {
		err = errors.Join(err, errors.New("at least one evaluator must be configured"))
	}
	if exp.Settings.Concurrency < 0 {
		err = errors.Join(err, fmt.Errorf("concurrency must not be negative, got %d", exp.Settings.Concurrency))
	}
	if exp.Settings.Runs < 0 {
		err = errors.Join(err, fmt.Errorf("runs must not be negative, got %d", exp.Settings.Runs))
	}
	if exp.Settings.Timeout < 0 {
		err = errors.Join(err, fmt.Errorf("timeout must not be negative, got %s", exp.Settings.Timeout))
	}

	seen := make(map[string]bool, len(exp.Evaluators))
	for i, spec := range exp.Evaluators {
		if spec.Name == "" {
			err = errors.Join(err, fmt.Errorf("evaluator at index %d has no name", i))
			continue
		}
		if seen[spec.Name] {
			err = errors.Join(err, fmt.Errorf("duplicate evaluator name '%s'", spec.Name))
		}
		seen[spec.Name] = true

		kind := spec.EffectiveType()
		if kind == evaluator.KindFunction {
			if exp.Functions[spec.Name] == nil {
				err = errors.Join(err, fmt.Errorf("evaluator '%s' has type '%s' but no function was provided", spec.Name, kind))
			}
			continue
		}
		if !o.registry.Has(kind) {
			err = errors.Join(err, fmt.Errorf("evaluator '%s' has unknown type '%s'", spec.Name, kind))
		}
	}

	return err
}

func (o *Orchestrator) evaluators(exp *Experiment) []*evaluator.Evaluator {
	evaluators := make([]*evaluator.Evaluator, 0, len(exp.Evaluators))
	for _, spec := range exp.Evaluators {
		if spec.EffectiveType() == evaluator.KindFunction {
			evaluators = append(evaluators, evaluator.NewFunc(spec.Name, exp.Functions[spec.Name]))
			continue
		}
		evaluators = append(evaluators, evaluator.New(spec, o.registry))
	}
	return evaluators
}

func (o *Orchestrator) notify(event ProgressEvent) {
	for _, cb := range o.observers {
		cb(event)
	}
}
