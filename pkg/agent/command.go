package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/util"
)

const commandWaitDelay = 500 * time.Millisecond

// CommandData is available to a command template.
type CommandData struct {
	// Prompt is the rendered prompt; use {{ quote .Prompt }} on the command line
	Prompt    string
	Item      runner.Item
	ItemIndex int
	RunIndex  int
}

// CommandConfig runs the agent under test as a shell command.
type CommandConfig struct {
	// Command is a template for the command line, e.g. "my-agent --prompt {{ quote .Prompt }}"
	Command string
	// Prompt is a template over the item's fields (default "{{ .input }}")
	Prompt string
	// Dir is the working directory of the command
	Dir string
}

// Command returns an AgentFunc that runs cfg.Command through the user's
// shell. The item is written to stdin as JSON and the trimmed stdout becomes
// the output. A non-zero exit is an agent error.
func Command(cfg CommandConfig) (runner.AgentFunc, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("command agent requires a command")
	}

	cmdTmpl, err := template.New("command").Funcs(templateFuncs).Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent command template: %w", err)
	}

	prompt, err := newPromptTemplate(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, item runner.Item, itemIndex, runIndex int) (*runner.AgentOutput, error) {
		text, err := prompt.render(item)
		if err != nil {
			return nil, err
		}

		var cmdStr bytes.Buffer
		err = cmdTmpl.Execute(&cmdStr, CommandData{
			Prompt:    text,
			Item:      item,
			ItemIndex: itemIndex,
			RunIndex:  runIndex,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to execute agent command template: %w", err)
		}

		input, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item: %w", err)
		}

		cmd := exec.CommandContext(ctx, util.GetShell(), "-c", cmdStr.String())
		cmd.Dir = cfg.Dir
		cmd.Stdin = bytes.NewReader(input)
		cmd.WaitDelay = commandWaitDelay
		cmd.Env = append(cmd.Environ(),
			"EVAL_PROMPT="+text,
			"EVAL_ITEM_INDEX="+strconv.Itoa(itemIndex),
			"EVAL_RUN_INDEX="+strconv.Itoa(runIndex),
		)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("agent command failed: %w\nstderr: %s", err, strings.TrimSpace(stderr.String()))
		}

		out := &runner.AgentOutput{Output: strings.TrimSpace(stdout.String())}
		if s := strings.TrimSpace(stderr.String()); s != "" {
			out.Metadata = map[string]any{"stderr": s}
		}
		return out, nil
	}, nil
}
