package src

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// editorCandidates are probed in order when no editor is configured.
var editorCandidates = []string{"nano", "vim", "vi", "code", "subl"}

// resolveEditor picks the editor for manual edit rounds: $EDITOR, then
// $VISUAL, then the first candidate that answers --version, else nano.
func resolveEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	for _, candidate := range editorCandidates {
		if err := exec.Command(candidate, "--version").Run(); err == nil {
			return candidate
		}
	}
	return "nano"
}

// suggestionTempFile writes content to a codeflow_suggestion_ temp file and
// returns its path. The caller removes it.
func suggestionTempFile(content string) (string, error) {
	tmp, err := os.CreateTemp("", "codeflow_suggestion_*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// editorCommand builds the editor invocation for a file, honoring flags
// embedded in $EDITOR (e.g. "code -w").
func editorCommand(ctx context.Context, path string) *exec.Cmd {
	parts := strings.Fields(resolveEditor())
	args := append(parts[1:], path)
	return exec.CommandContext(ctx, parts[0], args...)
}

// editInTempFile opens content in the user's editor attached to the
// terminal and returns the edited result. A non-zero editor exit is an
// error; the temp file is always removed.
func editInTempFile(ctx context.Context, content string) (string, error) {
	path, err := suggestionTempFile(content)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	cmd := editorCommand(ctx, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("editor %s: %w", cmd.Path, err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read edited file: %w", err)
	}
	return string(edited), nil
}
