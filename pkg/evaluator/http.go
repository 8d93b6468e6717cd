package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const DefaultHTTPTimeout = 30 * time.Second

// apiKeyVar can be referenced in header values to inject the experiment API key.
const apiKeyVar = "EVAL_API_KEY"

// HTTPConfig configures the http kind. The EvalContext is sent as the JSON
// request body and the response body is decoded as an EvalResult.
type HTTPConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
	Expect  *HTTPExpect       `json:"expect,omitempty"`
}

type HTTPExpect struct {
	Status int `json:"status,omitempty"`
}

func (cfg *HTTPConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url must be specified")
	}
	return nil
}

// HTTPHandler delegates scoring to a remote service.
type HTTPHandler struct {
	client *http.Client
}

var _ Handler = &HTTPHandler{}

// NewHTTPHandler creates a handler using client, or http.DefaultClient when nil.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Evaluate(ctx context.Context, spec Spec, ec *EvalContext, apiKey string) (*EvalResult, error) {
	cfg := &HTTPConfig{}
	if err := spec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := DefaultHTTPTimeout
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timeout: %w", err)
		}
	}

	method := http.MethodPost
	if cfg.Method != "" {
		method = strings.ToUpper(cfg.Method)
	}

	body, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal eval context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, expandHeader(v, apiKey))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make http request: %w", err)
	}
	defer resp.Body.Close()

	expected := http.StatusOK
	if cfg.Expect != nil && cfg.Expect.Status != 0 {
		expected = cfg.Expect.Status
	}
	if resp.StatusCode != expected {
		return nil, fmt.Errorf("expected status code %d, got %d", expected, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	res := &EvalResult{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	return res, nil
}

func expandHeader(v, apiKey string) string {
	return os.Expand(v, func(name string) string {
		if name == apiKeyVar {
			return apiKey
		}
		return os.Getenv(name)
	})
}
