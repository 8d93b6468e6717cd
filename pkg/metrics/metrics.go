// Package metrics exports experiment progress as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

const namespace = "evalkit"

var (
	// LatencyBuckets cover agent calls from 50ms to ~3.5 minutes.
	LatencyBuckets = prometheus.ExponentialBuckets(0.05, 2, 13)
	// ScoreBuckets split [0,1] in tenths.
	ScoreBuckets = prometheus.LinearBuckets(0.1, 0.1, 10)
)

// Recorder turns runner progress and gate results into metrics. It is safe
// for concurrent use.
type Recorder struct {
	units       *prometheus.CounterVec
	latency     prometheus.Histogram
	scores      *prometheus.HistogramVec
	experiments *prometheus.CounterVec
	violations  prometheus.Gauge
}

// New creates a Recorder and registers its collectors with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	r := &Recorder{}

	r.units, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_total",
		Help:      "Finished (item, run) units by status",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}

	r.latency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "unit_latency_seconds",
		Help:      "Agent latency per unit",
		Buckets:   LatencyBuckets,
	}))
	if err != nil {
		return nil, err
	}

	r.scores, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluator_score",
		Help:      "Scores produced by each evaluator",
		Buckets:   ScoreBuckets,
	}, []string{"evaluator"}))
	if err != nil {
		return nil, err
	}

	r.experiments, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "experiments_total",
		Help:      "Experiments checked against thresholds by outcome",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	r.violations, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "threshold_violations",
		Help:      "Threshold violations of the last checked experiment",
	}))
	if err != nil {
		return nil, err
	}

	return r, nil
}

// ObserveProgress records one finished unit. It has the shape of a
// runner.ProgressFunc.
func (r *Recorder) ObserveProgress(p runner.Progress) {
	if p.Run == nil {
		return
	}

	r.units.WithLabelValues(p.Run.Status()).Inc()
	r.latency.Observe(float64(p.Run.LatencyMs) / 1000)

	for name, res := range p.Run.Evaluations {
		if res != nil {
			r.scores.WithLabelValues(name).Observe(res.Score)
		}
	}
}

// ObserveGate records the outcome of a threshold check.
func (r *Recorder) ObserveGate(res *gate.Result) {
	if res == nil {
		return
	}

	result := "passed"
	if !res.Passed {
		result = "failed"
	}
	r.experiments.WithLabelValues(result).Inc()
	r.violations.Set(float64(len(res.Violations)))
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var alreadyErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyErr) {
			if existing, ok := alreadyErr.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}
