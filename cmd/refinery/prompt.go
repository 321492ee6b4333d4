package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/promptlab/refinery/internal/types"
)

// readPrompt returns the prompt text from a file (when path is set), the
// joined arguments, or stdin when neither is given or the argument is "-".
func readPrompt(path string, args []string, stdin io.Reader) (string, error) {
	var text string
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		text = string(data)
	case len(args) == 0 || (len(args) == 1 && args[0] == "-"):
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return text, nil
}

// loadCandidate reads a prompt file into a candidate.
func loadCandidate(path, task string) (types.PromptCandidate, error) {
	text, err := readPrompt(path, nil, strings.NewReader(""))
	if err != nil {
		return types.PromptCandidate{}, fmt.Errorf("%s: %w", path, err)
	}
	p := types.NewPromptCandidate(text)
	p.Task = task
	return p, nil
}
