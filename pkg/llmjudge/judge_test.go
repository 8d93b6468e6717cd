package llmjudge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(message map[string]any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "judge-model",
		"choices": []any{
			map[string]any{
				"index":         0,
				"finish_reason": "tool_calls",
				"message":       message,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 20,
			"total_tokens":      120,
		},
	}
}

func toolCallMessage(args string) map[string]any {
	return map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []any{
			map[string]any{
				"id":   "call_1",
				"type": "function",
				"function": map[string]any{
					"name":      submitToolName,
					"arguments": args,
				},
			},
		},
	}
}

func TestOpenAIJudge_Score(t *testing.T) {
	tt := map[string]struct {
		message      map[string]any
		expect       *Verdict
		expectErrStr string
	}{
		"tool call": {
			message: toolCallMessage(`{"score":0.8,"reason":"mostly correct","chainOfThought":"compared to reference"}`),
			expect:  &Verdict{Score: 0.8, Reason: "mostly correct", ChainOfThought: "compared to reference", TotalTokens: 120},
		},
		"content fallback": {
			message: map[string]any{
				"role":    "assistant",
				"content": "```json\n{\"score\":0.2,\"reason\":\"off topic\"}\n```",
			},
			expect: &Verdict{Score: 0.2, Reason: "off topic", TotalTokens: 120},
		},
		"unparsable": {
			message:      map[string]any{"role": "assistant", "content": "I think it is fine"},
			expectErrStr: "failed to parse judge verdict",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if r.Header.Get("Authorization") != "Bearer sk-judge" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				_ = json.NewDecoder(r.Body).Decode(&body)
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(completionResponse(tc.message))
			}))
			defer srv.Close()

			judge, err := NewJudge(&Config{BaseURL: srv.URL, Model: "judge-model"}, "sk-judge")
			require.NoError(t, err)
			assert.Equal(t, "judge-model", judge.ModelName())

			verdict, err := judge.Score(context.Background(), Request{
				Criteria:  "Answer is factually correct",
				Reference: "Paris",
				Input:     "capital of France?",
				Output:    "Paris",
			})
			if tc.expectErrStr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErrStr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, verdict)

			assert.Equal(t, "judge-model", body["model"])
			tools, ok := body["tools"].([]any)
			require.True(t, ok)
			require.Len(t, tools, 1)
			messages, ok := body["messages"].([]any)
			require.True(t, ok)
			require.Len(t, messages, 2)
		})
	}
}

func TestNewJudge(t *testing.T) {
	t.Setenv("JUDGE_KEY", "from-env")

	tt := map[string]struct {
		cfg       *Config
		apiKey    string
		expectErr bool
	}{
		"nil config": {
			cfg:       nil,
			expectErr: true,
		},
		"no key anywhere": {
			cfg:       &Config{},
			expectErr: true,
		},
		"explicit key": {
			cfg:    &Config{},
			apiKey: "sk-x",
		},
		"key from env": {
			cfg: &Config{Env: &EnvConfig{ApiKeyKey: "JUDGE_KEY"}},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			judge, err := NewJudge(tc.cfg, tc.apiKey)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultModel, judge.ModelName())
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tt := map[string]struct {
		raw       string
		expect    *Verdict
		expectErr bool
	}{
		"plain json": {
			raw:    `{"score":1,"reason":"ok"}`,
			expect: &Verdict{Score: 1, Reason: "ok"},
		},
		"fenced json": {
			raw:    "```json\n{\"score\":0.5,\"reason\":\"half\"}\n```",
			expect: &Verdict{Score: 0.5, Reason: "half"},
		},
		"empty": {
			raw:       "   ",
			expectErr: true,
		},
		"prose": {
			raw:       "looks good",
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got, err := ParseVerdict(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}
