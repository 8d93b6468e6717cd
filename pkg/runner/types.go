package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mcpchecker/evalkit/pkg/cache"
	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/stats"
)

const (
	DefaultConcurrency = 5
	DefaultRuns        = 1
)

// Item is one dataset record. The runner never modifies it.
type Item = map[string]any

// TokenUsage is reported by agents that call a model.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// AgentOutput is what the agent under test produced for one unit.
type AgentOutput struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Model    string         `json:"model,omitempty"`
	Usage    *TokenUsage    `json:"usage,omitempty"`
}

// AgentFunc invokes the agent under test for one (item, run) unit. The
// context is cancelled when the unit times out; agents that ignore it keep
// running in the background after the runner has moved on.
type AgentFunc func(ctx context.Context, item Item, itemIndex, runIndex int) (*AgentOutput, error)

// SingleRun is one trial of an item.
type SingleRun struct {
	RunIndex    int                              `json:"runIndex"`
	Output      string                           `json:"output"`
	LatencyMs   int64                            `json:"latencyMs"`
	Evaluations map[string]*evaluator.EvalResult `json:"evaluations"`
	Error       string                           `json:"error,omitempty"`
	Model       string                           `json:"model,omitempty"`
	Usage       *TokenUsage                      `json:"usage,omitempty"`
}

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Status classifies the run as ok, error or timeout.
func (r *SingleRun) Status() string {
	switch {
	case r.Error == "":
		return StatusOK
	case strings.HasPrefix(r.Error, ErrTimeout.Error()):
		return StatusTimeout
	default:
		return StatusError
	}
}

// ItemResult collects every run of one item. Index is the item's position in
// the dataset. With a single run the flat fields mirror Runs[0] and
// Aggregated is nil; with more, Evaluations holds per-evaluator mean scores
// and Aggregated the full distribution, empty but non-nil when every run
// failed.
type ItemResult struct {
	Index       int                              `json:"index"`
	Input       Item                             `json:"input"`
	Output      string                           `json:"output"`
	LatencyMs   int64                            `json:"latencyMs"`
	Evaluations map[string]*evaluator.EvalResult `json:"evaluations"`
	Error       string                           `json:"error,omitempty"`
	Runs        []*SingleRun                     `json:"runs"`
	Aggregated  map[string]stats.RunAggregation  `json:"aggregated"`
}

// Progress is reported once per finished unit.
type Progress struct {
	Completed int
	Total     int
	ItemIndex int
	RunIndex  int
	Run       *SingleRun
}

// ProgressFunc observes unit completion. Calls are serialized.
type ProgressFunc func(Progress)

type Options struct {
	// Concurrency caps in-flight units (default 5).
	Concurrency int
	// Timeout bounds each agent call; zero disables it.
	Timeout time.Duration
	// Runs is the number of trials per item (default 1).
	Runs       int
	Evaluators []*evaluator.Evaluator
	OnProgress ProgressFunc
	// Cache is consulted before each evaluator call when set.
	Cache  *cache.Cache
	APIKey string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Runs <= 0 {
		o.Runs = DefaultRuns
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.OnProgress == nil {
		o.OnProgress = func(Progress) {}
	}
	return o
}
