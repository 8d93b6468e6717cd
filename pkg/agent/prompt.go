package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/mcpchecker/evalkit/pkg/runner"
)

// DefaultPrompt sends the item's "input" field.
const DefaultPrompt = "{{ .input }}"

var templateFuncs = template.FuncMap{
	"quote": escapeShellArg,
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
}

// promptTemplate renders an item into the text sent to the agent. Item
// fields are available at the top level, e.g. {{ .question }}.
type promptTemplate struct {
	tmpl *template.Template
}

func newPromptTemplate(text string) (*promptTemplate, error) {
	if text == "" {
		text = DefaultPrompt
	}

	tmpl, err := template.New("prompt").Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	return &promptTemplate{tmpl: tmpl}, nil
}

func (p *promptTemplate) render(item runner.Item) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, item); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

// escapeShellArg escapes a string for safe use in shell commands
func escapeShellArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}
