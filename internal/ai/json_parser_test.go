package ai

import (
	"strings"
	"testing"
)

type judgeReply struct {
	Overall float64  `json:"overall"`
	Issues  []string `json:"issues"`
}

type suggestionReply struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func TestParse_DirectJSON(t *testing.T) {
	result := Parse[judgeReply](`{"overall": 0.7, "issues": ["vague"]}`)

	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if result.Data.Overall != 0.7 {
		t.Errorf("Expected overall=0.7, got %v", result.Data.Overall)
	}
	if len(result.Data.Issues) != 1 || result.Data.Issues[0] != "vague" {
		t.Errorf("Unexpected issues: %v", result.Data.Issues)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	result := Parse[judgeReply]("   \n")

	if result.Success {
		t.Error("Expected parse to fail on empty input")
	}
	if result.Error != "empty input" {
		t.Errorf("Expected 'empty input' error, got: %s", result.Error)
	}
}

func TestParse_WithCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"json fence", "```json\n{\"overall\": 0.4}\n```"},
		{"bare fence", "```\n{\"overall\": 0.4}\n```"},
		{"fence with prose", "Here is the score:\n```json\n{\"overall\": 0.4}\n```\nLet me know."},
		{"inline fence", "```{\"overall\": 0.4}```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse[judgeReply](tt.input)
			if !result.Success {
				t.Fatalf("Expected successful parse, got error: %s", result.Error)
			}
			if result.Data.Overall != 0.4 {
				t.Errorf("Expected overall=0.4, got %v", result.Data.Overall)
			}
		})
	}
}

func TestParse_TrailingCommasAndComments(t *testing.T) {
	input := `{
  // judge output
  "overall": 0.55,
  "issues": ["no format", "no audience",],
  /* trailing */
}`
	result := Parse[judgeReply](input)
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if len(result.Data.Issues) != 2 {
		t.Errorf("Expected 2 issues, got %v", result.Data.Issues)
	}
}

func TestParse_MixedContent(t *testing.T) {
	input := `I reviewed the prompt carefully.

{"overall": 0.62, "issues": ["uses {braces} in text"]}

Overall it is decent.`

	result := Parse[judgeReply](input)
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if result.Data.Issues[0] != "uses {braces} in text" {
		t.Errorf("Braces inside strings were mangled: %q", result.Data.Issues[0])
	}
}

func TestParse_ArrayInMixedContent(t *testing.T) {
	input := `Suggestions follow:
[
  {"type": "clarity", "description": "Use numbered steps."},
  {"type": "context", "description": "Name the audience [experts]."}
]
Done.`

	result := Parse[[]suggestionReply](input)
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if len(result.Data) != 2 {
		t.Fatalf("Expected 2 suggestions, got %d", len(result.Data))
	}
	if result.Data[1].Description != "Name the audience [experts]." {
		t.Errorf("Unexpected description: %q", result.Data[1].Description)
	}
}

func TestParse_Failure(t *testing.T) {
	result := Parse[judgeReply]("The prompt is fine, no JSON here.", ParseOptions{Context: "quality analysis"})

	if result.Success {
		t.Fatal("Expected parse to fail")
	}
	if !strings.HasPrefix(result.Error, "quality analysis: ") {
		t.Errorf("Expected context in error, got: %s", result.Error)
	}
	if result.OriginalText == "" {
		t.Error("Expected original text to be kept")
	}
}

func TestParseOrDefault(t *testing.T) {
	fallback := judgeReply{Overall: 0.5}

	if got := ParseOrDefault(`{"overall": 0.9}`, fallback); got.Overall != 0.9 {
		t.Errorf("Expected parsed value 0.9, got %v", got.Overall)
	}
	if got := ParseOrDefault("not json", fallback); got.Overall != 0.5 {
		t.Errorf("Expected fallback 0.5, got %v", got.Overall)
	}
}

func TestExtractBalanced(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", `x {"a": 1} y`, `{"a": 1}`},
		{"nested", `{"a": {"b": 2}} tail`, `{"a": {"b": 2}}`},
		{"escaped quote", `{"a": "say \"}\""}`, `{"a": "say \"}\""}`},
		{"unbalanced first", `{ oops {"a": 1}`, `{"a": 1}`},
		{"none", `no braces`, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractObject(tt.input); got != tt.want {
				t.Errorf("ExtractObject(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if got := ExtractArray(`prefix [1, [2, 3]] suffix`); got != `[1, [2, 3]]` {
		t.Errorf("ExtractArray returned %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("Expected truncated string, got %q", got)
	}
}

func TestParse_SkipsBlocksThatDoNotDecode(t *testing.T) {
	input := "Review [v2] follows:\n[{\"type\": \"clarity\", \"description\": \"Use numbered steps.\"}]"

	result := Parse[[]suggestionReply](input)
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if len(result.Data) != 1 || result.Data[0].Type != "clarity" {
		t.Errorf("Expected the clarity suggestion, got %v", result.Data)
	}

	obj := Parse[judgeReply]("Scored {prompt} as:\n{\"overall\": 0.3}")
	if !obj.Success || obj.Data.Overall != 0.3 {
		t.Errorf("Expected overall=0.3 from the second object, got %+v", obj)
	}
}

func TestParse_PrefersNonEmptyArray(t *testing.T) {
	input := "Here are suggestions []:\n[{\"type\": \"context\", \"description\": \"Name the audience.\"}]"

	result := Parse[[]suggestionReply](input)
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if len(result.Data) != 1 || result.Data[0].Type != "context" {
		t.Errorf("Expected the context suggestion, got %v", result.Data)
	}

	onlyEmpty := Parse[[]suggestionReply]("Nothing to add: [] done")
	if !onlyEmpty.Success || len(onlyEmpty.Data) != 0 {
		t.Errorf("Expected an empty array when nothing else decodes, got %+v", onlyEmpty)
	}
}
