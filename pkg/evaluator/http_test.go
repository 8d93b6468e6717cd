package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler(t *testing.T) {
	tt := map[string]struct {
		handler      http.HandlerFunc
		config       func(url string) map[string]any
		expectScore  float64
		expectReason string
		expectError  bool
	}{
		"scores from response body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				ec := &EvalContext{}
				if err := json.NewDecoder(r.Body).Decode(ec); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_ = json.NewEncoder(w).Encode(EvalResult{Score: 0.75, Reason: "echo " + ec.Output})
			},
			config: func(url string) map[string]any {
				return map[string]any{"url": url}
			},
			expectScore:  0.75,
			expectReason: "echo forty-two",
		},
		"api key injected into header": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer sk-test" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				_ = json.NewEncoder(w).Encode(EvalResult{Score: 1})
			},
			config: func(url string) map[string]any {
				return map[string]any{
					"url":     url,
					"headers": map[string]any{"Authorization": "Bearer ${EVAL_API_KEY}"},
				}
			},
			expectScore: 1,
		},
		"custom method and status": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				w.WriteHeader(http.StatusAccepted)
				_ = json.NewEncoder(w).Encode(EvalResult{Score: 0.5})
			},
			config: func(url string) map[string]any {
				return map[string]any{"url": url, "method": "put", "expect": map[string]any{"status": 202}}
			},
			expectScore: 0.5,
		},
		"unexpected status": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			config: func(url string) map[string]any {
				return map[string]any{"url": url}
			},
			expectReason: "expected status code 200, got 500",
			expectError:  true,
		},
		"invalid body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			config: func(url string) map[string]any {
				return map[string]any{"url": url}
			},
			expectReason: "failed to decode response body",
			expectError:  true,
		},
		"request timeout": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			config: func(url string) map[string]any {
				return map[string]any{"url": url, "timeout": "20ms"}
			},
			expectReason: "failed to make http request",
			expectError:  true,
		},
		"missing url": {
			handler: func(w http.ResponseWriter, r *http.Request) {},
			config: func(string) map[string]any {
				return map[string]any{}
			},
			expectReason: "url must be specified",
			expectError:  true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			reg := NewRegistry(nil)
			reg.Register(KindHTTP, NewHTTPHandler(srv.Client()))

			ev := New(Spec{Name: "remote", Type: KindHTTP, Config: tc.config(srv.URL)}, reg)
			res := ev.Evaluate(context.Background(), &EvalContext{
				Item:   map[string]any{"question": "meaning of life"},
				Output: "forty-two",
			}, "sk-test")
			require.NotNil(t, res)

			assert.Equal(t, tc.expectError, IsErrorResult(res), res.Reason)
			assert.Equal(t, tc.expectScore, res.Score)
			if tc.expectReason != "" {
				assert.Contains(t, res.Reason, tc.expectReason)
			}
		})
	}
}
