package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

func TestRecorder_ObserveProgress(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)

	runs := []*runner.SingleRun{
		{LatencyMs: 120, Evaluations: map[string]*evaluator.EvalResult{"accuracy": {Score: 1}, "tone": {Score: 0.35}}},
		{LatencyMs: 80, Evaluations: map[string]*evaluator.EvalResult{"accuracy": {Score: 0.4}}},
		{LatencyMs: 2000, Error: "agent timed out after 2s", Evaluations: map[string]*evaluator.EvalResult{}},
		{LatencyMs: 5, Error: "agent invocation failed: boom", Evaluations: map[string]*evaluator.EvalResult{}},
	}
	for i, run := range runs {
		rec.ObserveProgress(runner.Progress{Completed: i + 1, Total: len(runs), ItemIndex: i, Run: run})
	}
	rec.ObserveProgress(runner.Progress{})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.units.WithLabelValues(runner.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.units.WithLabelValues(runner.StatusTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.units.WithLabelValues(runner.StatusError)))

	assert.Equal(t, 2, testutil.CollectAndCount(rec.scores))

	families, err := reg.Gather()
	require.NoError(t, err)

	samples := map[string]uint64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				samples[mf.GetName()] += h.GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(4), samples["evalkit_unit_latency_seconds"])
	assert.Equal(t, uint64(3), samples["evalkit_evaluator_score"])
}

func TestRecorder_ObserveGate(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)

	rec.ObserveGate(&gate.Result{Passed: true, Violations: []gate.Violation{}})
	rec.ObserveGate(&gate.Result{Passed: false, Violations: []gate.Violation{{Evaluator: "a"}, {Evaluator: "b"}}})
	rec.ObserveGate(nil)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP evalkit_experiments_total Experiments checked against thresholds by outcome
# TYPE evalkit_experiments_total counter
evalkit_experiments_total{result="failed"} 1
evalkit_experiments_total{result="passed"} 1
# HELP evalkit_threshold_violations Threshold violations of the last checked experiment
# TYPE evalkit_threshold_violations gauge
evalkit_threshold_violations 2
`), "evalkit_experiments_total", "evalkit_threshold_violations")
	assert.NoError(t, err)
}

func TestNew_SharesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := New(reg)
	require.NoError(t, err)

	second, err := New(reg)
	require.NoError(t, err)

	second.ObserveProgress(runner.Progress{Run: &runner.SingleRun{LatencyMs: 10}})
	assert.Equal(t, 1.0, testutil.ToFloat64(first.units.WithLabelValues(runner.StatusOK)))
}
