package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Step is a script given either inline or as a file.
type Step struct {
	Inline string `json:"inline,omitempty"`
	File   string `json:"file,omitempty"`
}

func (s *Step) IsEmpty() bool {
	if s == nil {
		return true
	}

	return s.File == "" && s.Inline == ""
}

func (s *Step) Validate() error {
	if s.IsEmpty() {
		return fmt.Errorf("a script must be given as 'file' or 'inline'")
	}

	numDefined := 0
	if s.File != "" {
		numDefined++
	}
	if s.Inline != "" {
		numDefined++
	}

	if numDefined != 1 {
		return fmt.Errorf("exactly one of 'file' or 'inline' must be defined")
	}

	return nil
}

// Command builds the command for the step. The returned cleanup func removes
// any temp file created for a shebang script and must always be called.
// Stdin is left for the caller to wire.
func (s *Step) Command(ctx context.Context) (*exec.Cmd, func(), error) {
	if s.Inline != "" {
		return s.inlineCommand(ctx)
	}

	if err := ensureExecutable(s.File); err != nil {
		return nil, func() {}, err
	}
	cmd := exec.CommandContext(ctx, s.File)
	// Run from the script's directory so relative paths work
	cmd.Dir = filepath.Dir(s.File)

	return cmd, func() {}, nil
}

// inlineCommand supports shebang scripts by writing them to a temp file.
// Scripts without a shebang run through the user's shell with -c.
func (s *Step) inlineCommand(ctx context.Context) (*exec.Cmd, func(), error) {
	if !strings.HasPrefix(strings.TrimSpace(s.Inline), "#!") {
		return exec.CommandContext(ctx, GetShell(), "-c", s.Inline), func() {}, nil
	}

	tmpFile, err := os.CreateTemp("", ".evalkit-script-*.sh")
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to create temp script file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmpFile.WriteString(s.Inline); err != nil {
		tmpFile.Close()
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to write temp script: %w", err)
	}
	tmpFile.Close()

	if err := ensureExecutable(tmpPath); err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return exec.CommandContext(ctx, tmpPath), cleanup, nil
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if info.Mode()&0100 != 0 {
		return nil
	}

	if err := os.Chmod(path, info.Mode()|0111); err != nil {
		return fmt.Errorf("failed to make script executable: %w", err)
	}

	return nil
}

// GetShell returns the shell to use for executing scripts.
// It checks the SHELL environment variable and defaults to /bin/sh if not set.
func GetShell() string {
	shell, ok := os.LookupEnv("SHELL")
	if !ok || shell == "" {
		shell = "/bin/sh"
	}

	return shell
}
