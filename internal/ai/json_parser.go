package ai

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for cleaning model output.
var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}``` anywhere in the text
	codeFenceRegex = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ParseResult is the outcome of a Parse call.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures JSON parsing behavior.
type ParseOptions struct {
	Context   string // Context for error messages and logs
	LogErrors bool   // Log parse failures at debug level
}

// Parse decodes model output into T, tolerating the usual quirks of LLM JSON.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Strip trailing commas and comments and retry
//  4. Try each balanced {...} or [...] block in turn; the first one that
//     decodes wins, except that an empty array only wins when no later
//     block decodes to a non-empty one
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	var options ParseOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parseError[T]("empty input", text, options.Context)
	}

	if result, err := tryDirectParse[T](trimmed); err == nil {
		return ParseResult[T]{Success: true, Data: result, OriginalText: text}
	}

	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		if result, err := tryDirectParse[T](withoutFences); err == nil {
			return ParseResult[T]{Success: true, Data: result, OriginalText: text}
		}
	}

	cleaned := cleanupJSON(withoutFences)
	if result, err := tryDirectParse[T](cleaned); err == nil {
		return ParseResult[T]{Success: true, Data: result, OriginalText: text}
	}

	openCh, closeCh := byte('{'), byte('}')
	isSlice := isSliceType[T]()
	if isSlice {
		openCh, closeCh = '[', ']'
	}
	var empty *T
	for start := strings.IndexByte(cleaned, openCh); start >= 0; {
		if block := balancedAt(cleaned, start, openCh, closeCh); block != "" {
			if result, err := tryDirectParse[T](cleanupJSON(block)); err == nil {
				if !isSlice || reflect.ValueOf(result).Len() > 0 {
					return ParseResult[T]{Success: true, Data: result, OriginalText: text}
				}
				if empty == nil {
					empty = &result
				}
			}
		}
		next := strings.IndexByte(cleaned[start+1:], openCh)
		if next < 0 {
			break
		}
		start += next + 1
	}
	if empty != nil {
		return ParseResult[T]{Success: true, Data: *empty, OriginalText: text}
	}

	if options.LogErrors {
		slog.Debug("all JSON parsing strategies failed",
			"context", options.Context,
			"textPreview", truncate(text, 120))
	}
	return parseError[T]("all JSON parsing strategies failed", text, options.Context)
}

// ParseOrDefault parses JSON and returns fallback on error.
func ParseOrDefault[T any](text string, fallback T, opts ...ParseOptions) T {
	result := Parse[T](text, opts...)
	if result.Success {
		return result.Data
	}
	return fallback
}

// ExtractObject returns the first balanced {...} block in text, or "".
// Braces inside JSON strings are ignored.
func ExtractObject(text string) string {
	return extractBalanced(text, '{', '}')
}

// ExtractArray returns the first balanced [...] block in text, or "".
func ExtractArray(text string) string {
	return extractBalanced(text, '[', ']')
}

func extractBalanced(text string, openCh, closeCh byte) string {
	for start := strings.IndexByte(text, openCh); start >= 0; {
		if block := balancedAt(text, start, openCh, closeCh); block != "" {
			return block
		}
		// Unbalanced from this opener; try the next one
		next := strings.IndexByte(text[start+1:], openCh)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

// balancedAt returns the balanced block opening at text[start], or "" when
// it never closes.
func balancedAt(text string, start int, openCh, closeCh byte) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// isSliceType reports whether T decodes from a JSON array.
func isSliceType[T any]() bool {
	k := reflect.TypeOf((*T)(nil)).Elem().Kind()
	return k == reflect.Slice || k == reflect.Array
}

func tryDirectParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// removeCodeFences strips markdown code fences from text.
func removeCodeFences(text string) string {
	cleaned := text
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		cleaned = m[1]
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes trailing commas and comments. Single quotes are left
// alone because they are legal inside JSON strings.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func parseError[T any](message, text, context string) ParseResult[T] {
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Error: message, OriginalText: text}
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
