package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpchecker/evalkit/pkg/runner"
)

func TestStatic(t *testing.T) {
	ds := Static{{"q": "a"}, {"q": "b"}}

	items, err := ds.Items(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []runner.Item{{"q": "a"}, {"q": "b"}}, items)
}

func TestFromFile(t *testing.T) {
	tt := map[string]struct {
		file        string
		content     string
		expectItems []runner.Item
		expectErr   bool
	}{
		"yaml list": {
			file: "items.yaml",
			content: `
- id: france
  question: Capital of France?
  expected: Paris
- id: japan
  question: Capital of Japan?
  expected: Tokyo
`,
			expectItems: []runner.Item{
				{"id": "france", "question": "Capital of France?", "expected": "Paris"},
				{"id": "japan", "question": "Capital of Japan?", "expected": "Tokyo"},
			},
		},
		"json array": {
			file:        "items.json",
			content:     `[{"q": "one", "n": 1}, {"q": "two", "n": 2}]`,
			expectItems: []runner.Item{{"q": "one", "n": float64(1)}, {"q": "two", "n": float64(2)}},
		},
		"json lines with blank line": {
			file:        "items.jsonl",
			content:     "{\"q\": \"one\"}\n\n{\"q\": \"two\"}\n",
			expectItems: []runner.Item{{"q": "one"}, {"q": "two"}},
		},
		"invalid json line": {
			file:      "items.jsonl",
			content:   "{\"q\": \"one\"}\n{not json\n",
			expectErr: true,
		},
		"not a list": {
			file:      "items.yaml",
			content:   "q: one\n",
			expectErr: true,
		},
		"null item": {
			file:      "items.yaml",
			content:   "- q: one\n- null\n",
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			items, err := FromFile(path).Items(context.Background())
			if tc.expectErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectItems, items)
		})
	}
}

func TestFromFile_Missing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml")).Items(context.Background())
	assert.ErrorContains(t, err, "failed to read dataset file")
}

func TestFromFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromFile("unused.yaml").Items(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
