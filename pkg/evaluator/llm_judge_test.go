package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpchecker/evalkit/pkg/llmjudge"
)

type fakeJudge struct {
	mu       sync.Mutex
	requests []llmjudge.Request
	verdict  *llmjudge.Verdict
	err      error
}

var _ llmjudge.Judge = &fakeJudge{}

func (f *fakeJudge) Score(_ context.Context, req llmjudge.Request) (*llmjudge.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	v := *f.verdict
	return &v, nil
}

func (f *fakeJudge) ModelName() string {
	return "fake"
}

func TestLLMJudgeHandler(t *testing.T) {
	item := map[string]any{
		"question": "What is the capital of France?",
		"answer":   "Paris",
	}

	tt := map[string]struct {
		config          map[string]any
		judge           *fakeJudge
		expectScore     float64
		expectError     bool
		expectReference string
		expectInput     string
	}{
		"reference from item field": {
			config:          map[string]any{"criteria": "correct", "referenceField": "answer", "inputField": "question"},
			judge:           &fakeJudge{verdict: &llmjudge.Verdict{Score: 0.9, Reason: "matches"}},
			expectScore:     0.9,
			expectReference: "Paris",
			expectInput:     "What is the capital of France?",
		},
		"whole item as input": {
			config:          map[string]any{"criteria": "correct", "reference": "Paris"},
			judge:           &fakeJudge{verdict: &llmjudge.Verdict{Score: 0.4}},
			expectScore:     0.4,
			expectReference: "Paris",
			expectInput:     `{"answer":"Paris","question":"What is the capital of France?"}`,
		},
		"verdict above range is clamped": {
			config:      map[string]any{"criteria": "correct"},
			judge:       &fakeJudge{verdict: &llmjudge.Verdict{Score: 10}},
			expectScore: 1,
		},
		"judge error": {
			config:      map[string]any{"criteria": "correct"},
			judge:       &fakeJudge{err: errors.New("rate limited")},
			expectError: true,
		},
		"missing criteria": {
			config:      map[string]any{},
			judge:       &fakeJudge{verdict: &llmjudge.Verdict{Score: 1}},
			expectError: true,
		},
		"missing reference field": {
			config:      map[string]any{"criteria": "correct", "referenceField": "nope"},
			judge:       &fakeJudge{verdict: &llmjudge.Verdict{Score: 1}},
			expectError: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			ctx := llmjudge.WithJudge(context.Background(), tc.judge)
			ev := New(Spec{Name: "judge", Config: tc.config}, NewDefaultRegistry(nil))

			res := ev.Evaluate(ctx, &EvalContext{Item: item, Output: "Paris"}, "")

			assert.Equal(t, tc.expectError, IsErrorResult(res), res.Reason)
			assert.Equal(t, tc.expectScore, res.Score)
			if tc.expectError {
				return
			}

			require.Len(t, tc.judge.requests, 1)
			req := tc.judge.requests[0]
			assert.Equal(t, "Paris", req.Output)
			if tc.expectReference != "" {
				assert.Equal(t, tc.expectReference, req.Reference)
			}
			if tc.expectInput != "" {
				assert.Equal(t, tc.expectInput, req.Input)
			}
		})
	}
}

func TestLLMJudgeHandler_ReusesJudges(t *testing.T) {
	built := 0
	judge := &fakeJudge{verdict: &llmjudge.Verdict{Score: 1}}

	h := NewLLMJudgeHandler()
	h.newJudge = func(cfg *llmjudge.Config, apiKey string) (llmjudge.Judge, error) {
		built++
		if apiKey == "" {
			return nil, errors.New("no api key")
		}
		return judge, nil
	}

	reg := NewRegistry(nil)
	reg.Register(KindLLMJudge, h)

	spec := Spec{Name: "judge", Config: map[string]any{"criteria": "c", "model": "m1"}}
	for range 3 {
		res := New(spec, reg).Evaluate(context.Background(), &EvalContext{Output: "x"}, "sk-1")
		assert.Equal(t, 1.0, res.Score)
	}
	assert.Equal(t, 1, built)

	other := Spec{Name: "judge2", Config: map[string]any{"criteria": "c", "model": "m2"}}
	New(other, reg).Evaluate(context.Background(), &EvalContext{Output: "x"}, "sk-1")
	assert.Equal(t, 2, built)

	res := New(spec, reg).Evaluate(context.Background(), &EvalContext{Output: "x"}, "")
	assert.True(t, IsErrorResult(res))
	assert.Contains(t, res.Reason, "failed to create llm judge")
}
