package evaluator

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constHandler(score float64) Handler {
	return HandlerFunc(func(context.Context, Spec, *EvalContext, string) (*EvalResult, error) {
		return &EvalResult{Score: score}, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	tt := map[string]struct {
		registerAgain bool
		expectWarn    bool
		expectScore   float64
	}{
		"register new kind": {
			expectScore: 0.1,
		},
		"register duplicate overwrites and warns": {
			registerAgain: true,
			expectWarn:    true,
			expectScore:   0.9,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			buf := &bytes.Buffer{}
			reg := NewRegistry(slog.New(slog.NewTextHandler(buf, nil)))

			reg.Register("custom", constHandler(0.1))
			if tc.registerAgain {
				reg.Register("custom", constHandler(0.9))
			}

			h, ok := reg.Get("custom")
			require.True(t, ok)
			res, err := h.Evaluate(context.Background(), Spec{}, &EvalContext{}, "")
			require.NoError(t, err)
			assert.Equal(t, tc.expectScore, res.Score)

			if tc.expectWarn {
				assert.Contains(t, buf.String(), "overwriting evaluator handler")
				assert.Contains(t, buf.String(), "custom")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry(nil)

	_, ok := reg.Get("a")
	assert.False(t, ok)
	assert.Empty(t, reg.List())

	reg.Register("b", constHandler(1))
	reg.Register("a", constHandler(1))
	reg.Register("c", constHandler(1))

	assert.True(t, reg.Has("a"))
	assert.Equal(t, []Kind{"a", "b", "c"}, reg.List())

	assert.True(t, reg.Unregister("b"))
	assert.False(t, reg.Unregister("b"))
	assert.False(t, reg.Has("b"))
	assert.Equal(t, []Kind{"a", "c"}, reg.List())

	reg.Clear()
	assert.Empty(t, reg.List())
	assert.False(t, reg.Has("a"))
}

func TestRegistry_InstancesAreIsolated(t *testing.T) {
	first := NewRegistry(nil)
	second := NewRegistry(nil)

	first.Register("custom", constHandler(1))

	assert.True(t, first.Has("custom"))
	assert.False(t, second.Has("custom"))
}

func TestNewDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry(nil)

	assert.Equal(t, []Kind{
		KindContains,
		KindExactMatch,
		KindHTTP,
		KindJSONSchema,
		KindLLMJudge,
		KindRegex,
		KindScript,
	}, reg.List())
}
