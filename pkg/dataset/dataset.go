// Package dataset provides the item sources an experiment runs over.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/mcpchecker/evalkit/pkg/runner"
)

// Dataset yields the items of an experiment in a stable order.
type Dataset interface {
	Items(ctx context.Context) ([]runner.Item, error)
}

// Static is an in-memory dataset.
type Static []runner.Item

func (s Static) Items(_ context.Context) ([]runner.Item, error) {
	return s, nil
}

// File loads items from a YAML or JSON array, or from JSON Lines when the
// extension is .jsonl or .ndjson. The file is read on every call.
type File struct {
	Path string
}

var _ Dataset = &File{}

func FromFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Items(ctx context.Context) ([]runner.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file '%s': %w", f.Path, err)
	}

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".jsonl", ".ndjson":
		return parseLines(data)
	default:
		return Parse(data)
	}
}

// Parse decodes a YAML or JSON array of objects.
func Parse(data []byte) ([]runner.Item, error) {
	var items []runner.Item
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("dataset item %d is empty", i)
		}
	}

	return items, nil
}

func parseLines(data []byte) ([]runner.Item, error) {
	var items []runner.Item

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		item := runner.Item{}
		if err := yaml.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to parse dataset line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset lines: %w", err)
	}

	return items, nil
}
