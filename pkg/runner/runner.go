// Package runner schedules (item, run) units of work against an agent under
// a concurrency cap and scores every output with the configured evaluators.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpchecker/evalkit/pkg/cache"
	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/stats"
	"github.com/mcpchecker/evalkit/pkg/util"
)

// ErrTimeout marks a unit whose agent call did not settle in time.
var ErrTimeout = errors.New("agent timed out")

// AgentError wraps a failure returned (or panicked) by the agent.
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent invocation failed: %s", e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// Run executes len(items)*opts.Runs units with at most opts.Concurrency in
// flight and returns one ItemResult per item, in dataset order.
//
// Every unit runs to completion regardless of other units failing. Units not
// yet started when ctx is cancelled are recorded as failed; units already in
// flight ignore the cancellation and finish or time out on their own, so their
// agent call and evaluators see an uncancelled context.
func Run(ctx context.Context, items []Item, agent AgentFunc, opts Options) []*ItemResult {
	opts = opts.withDefaults()
	ctx = util.WithLogger(ctx, opts.Logger)

	u := &unitRunner{
		agent:      agent,
		timeout:    opts.Timeout,
		evaluators: opts.Evaluators,
		cache:      opts.Cache,
		apiKey:     opts.APIKey,
		logger:     opts.Logger,
	}

	grid := make([][]*SingleRun, len(items))
	for i := range grid {
		grid[i] = make([]*SingleRun, opts.Runs)
	}

	var (
		mu        sync.Mutex
		completed int
		total     = len(items) * opts.Runs
	)
	report := func(itemIndex, runIndex int, run *SingleRun) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		opts.OnProgress(Progress{
			Completed: completed,
			Total:     total,
			ItemIndex: itemIndex,
			RunIndex:  runIndex,
			Run:       run,
		})
	}

	// Go blocks once the limit is reached, so units are admitted in
	// dataset order.
	g := &errgroup.Group{}
	g.SetLimit(opts.Concurrency)
	for i, item := range items {
		for r := range opts.Runs {
			g.Go(func() error {
				run := u.execute(ctx, item, i, r)
				grid[i][r] = run
				report(i, r, run)
				return nil
			})
		}
	}
	_ = g.Wait()

	results := make([]*ItemResult, len(items))
	for i, item := range items {
		results[i] = stitch(i, item, grid[i])
	}

	return results
}

type unitRunner struct {
	agent      AgentFunc
	timeout    time.Duration
	evaluators []*evaluator.Evaluator
	cache      *cache.Cache
	apiKey     string
	logger     *slog.Logger
}

func (u *unitRunner) execute(ctx context.Context, item Item, itemIndex, runIndex int) *SingleRun {
	run := &SingleRun{
		RunIndex:    runIndex,
		Evaluations: map[string]*evaluator.EvalResult{},
	}

	if err := ctx.Err(); err != nil {
		run.Error = fmt.Sprintf("unit not started: %s", err)
		return run
	}
	// A started unit finishes on its own terms; the unit timeout is its
	// only deadline.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	out, err := u.invoke(ctx, item, itemIndex, runIndex)
	run.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		run.Error = err.Error()
		u.logger.Debug("unit failed", "item", itemIndex, "run", runIndex, "error", err)
		return run
	}

	run.Output = out.Output
	run.Model = out.Model
	run.Usage = out.Usage

	ec := &evaluator.EvalContext{
		Item:     item,
		Output:   out.Output,
		Metadata: out.Metadata,
	}

	for _, ev := range u.evaluators {
		run.Evaluations[ev.Name()] = u.evaluate(ctx, ev, ec)
	}

	return run
}

// invoke races the agent call against the unit timeout.
func (u *unitRunner) invoke(ctx context.Context, item Item, itemIndex, runIndex int) (*AgentOutput, error) {
	type result struct {
		out *AgentOutput
		err error
	}

	agentCtx, cancel := ctx, context.CancelFunc(func() {})
	if u.timeout > 0 {
		agentCtx, cancel = context.WithTimeout(ctx, u.timeout)
	}
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		out, err := u.agent(agentCtx, item, itemIndex, runIndex)
		done <- result{out: out, err: err}
	}()

	var timeout <-chan time.Time
	if u.timeout > 0 {
		timer := time.NewTimer(u.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			// An agent honouring its context reports the deadline itself
			if errors.Is(agentCtx.Err(), context.DeadlineExceeded) {
				return nil, u.timeoutError()
			}
			return nil, &AgentError{Err: res.err}
		}
		if res.out == nil {
			return nil, &AgentError{Err: errors.New("agent returned no output")}
		}
		return res.out, nil
	case <-timeout:
		return nil, u.timeoutError()
	}
}

func (u *unitRunner) timeoutError() error {
	return fmt.Errorf("%w after %s", ErrTimeout, u.timeout)
}

func (u *unitRunner) evaluate(ctx context.Context, ev *evaluator.Evaluator, ec *evaluator.EvalContext) *evaluator.EvalResult {
	// Function evaluators are opaque code, their config does not identify them
	if u.cache == nil || ev.Spec().EffectiveType() == evaluator.KindFunction {
		return ev.Evaluate(ctx, ec, u.apiKey)
	}

	km := cache.KeyMaterial{
		Config: ev.CacheKeyConfig(),
		Input:  ec.Item,
		Output: ec.Output,
	}
	if res, ok := u.cache.Get(km); ok {
		return res
	}

	res := ev.Evaluate(ctx, ec, u.apiKey)
	if !evaluator.IsErrorResult(res) {
		u.cache.Set(km, res)
	}

	return res
}

func stitch(index int, item Item, runs []*SingleRun) *ItemResult {
	res := &ItemResult{
		Index: index,
		Input: item,
		Runs:  runs,
	}

	if len(runs) == 1 {
		run := runs[0]
		res.Output = run.Output
		res.LatencyMs = run.LatencyMs
		res.Evaluations = run.Evaluations
		res.Error = run.Error
		return res
	}

	var (
		latency   int64
		succeeded int
		firstErr  string
		scores    = map[string][]float64{}
	)
	for _, run := range runs {
		latency += run.LatencyMs
		if run.Error != "" {
			if firstErr == "" {
				firstErr = fmt.Sprintf("run %d: %s", run.RunIndex, run.Error)
			}
			continue
		}

		if succeeded == 0 {
			res.Output = run.Output
		}
		succeeded++

		for name, ev := range run.Evaluations {
			scores[name] = append(scores[name], ev.Score)
		}
	}

	res.LatencyMs = latency / int64(len(runs))
	if succeeded == 0 {
		res.Error = fmt.Sprintf("all %d runs failed, first error: %s", len(runs), firstErr)
	}

	res.Evaluations = make(map[string]*evaluator.EvalResult, len(scores))
	res.Aggregated = make(map[string]stats.RunAggregation, len(scores))
	for name, s := range scores {
		agg := stats.Aggregate(s)
		res.Aggregated[name] = agg
		res.Evaluations[name] = &evaluator.EvalResult{
			Score:  agg.Mean,
			Reason: fmt.Sprintf("mean of %d runs", len(s)),
		}
	}

	return res
}
