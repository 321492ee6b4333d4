// Package testcases builds the input scenarios used to A/B test prompts.
package testcases

import (
	"fmt"
	"strings"

	"github.com/promptlab/refinery/internal/types"
)

// LibrarySize is the number of scenario archetypes. Requests for more test
// cases are capped to it.
const LibrarySize = 10

// Archetype categories, in selection order.
const (
	CategorySimple         = "simple"
	CategoryComplex        = "complex"
	CategoryEdgeCase       = "edge_case"
	CategoryAmbiguous      = "ambiguous"
	CategoryPerformance    = "performance"
	CategoryErrorProne     = "error_prone"
	CategoryMultiStep      = "multi_step"
	CategoryIntegration    = "integration"
	CategoryUserExperience = "user_experience"
	CategoryTechnicalSpec  = "technical_spec"
)

type archetype struct {
	category string
	input    string
	criteria string
}

// library is ordered; selection always takes a prefix so results are
// reproducible.
var library = [LibrarySize]archetype{
	{
		category: CategorySimple,
		input:    "Handle a straightforward request with a single clear goal and no special constraints.",
		criteria: "Direct, correct answer that addresses the request without unnecessary detail.",
	},
	{
		category: CategoryComplex,
		input:    "Handle a request with several competing constraints: a strict length limit, a required format, and two audiences with different levels of expertise.",
		criteria: "Every constraint is respected and trade-offs between them are made explicit.",
	},
	{
		category: CategoryEdgeCase,
		input:    "Handle a request where the input is empty, extremely long, or contains unusual characters and mixed languages.",
		criteria: "Graceful handling of the unusual input with no invented content.",
	},
	{
		category: CategoryAmbiguous,
		input:    "Handle a vague request that could reasonably be read in more than one way.",
		criteria: "Ambiguity is acknowledged and either resolved with a stated assumption or a clarifying question.",
	},
	{
		category: CategoryPerformance,
		input:    "Handle a time-critical request where the user needs the most important information first and as briefly as possible.",
		criteria: "Concise answer with the key point in the first sentence.",
	},
	{
		category: CategoryErrorProne,
		input:    "Handle a request that contains a factual mistake or a false premise stated as fact.",
		criteria: "The mistaken premise is identified and corrected instead of being repeated.",
	},
	{
		category: CategoryMultiStep,
		input:    "Handle a request that requires several dependent steps, where each step uses the result of the previous one.",
		criteria: "Steps are ordered correctly and intermediate results are shown.",
	},
	{
		category: CategoryIntegration,
		input:    "Handle a request whose output will be consumed by another system that expects a strict machine-readable structure.",
		criteria: "Output follows the required structure exactly with no extra prose.",
	},
	{
		category: CategoryUserExperience,
		input:    "Handle a request from a frustrated non-expert user who needs a friendly, jargon-free explanation.",
		criteria: "Empathetic tone, plain language, and an actionable next step.",
	},
	{
		category: CategoryTechnicalSpec,
		input:    "Handle a request for a precise technical specification with exact units, versions, and edge conditions.",
		criteria: "Technically precise answer with explicit assumptions and no hand-waving.",
	},
}

// Generate returns the first count archetypes as test cases for prompt.
// count is clamped to [0, LibrarySize]. The same count always yields the same
// inputs and categories; IDs are derived from prompt.ID and the position.
func Generate(prompt types.PromptCandidate, count int) []types.TestCase {
	count = Clamp(count)
	prefix := prompt.ID
	if prefix == "" {
		prefix = "tc"
	}
	cases := make([]types.TestCase, count)
	for i := 0; i < count; i++ {
		a := library[i]
		cases[i] = types.TestCase{
			ID:               fmt.Sprintf("%s-%02d-%s", prefix, i+1, a.category),
			InputText:        contextualize(a.input, prompt.Task),
			ExpectedCriteria: a.criteria,
			Category:         a.category,
		}
	}
	return cases
}

// Clamp bounds a requested test case count to the library.
func Clamp(count int) int {
	if count < 0 {
		return 0
	}
	if count > LibrarySize {
		return LibrarySize
	}
	return count
}

// Categories lists every archetype category in selection order.
func Categories() []string {
	out := make([]string, LibrarySize)
	for i, a := range library {
		out[i] = a.category
	}
	return out
}

func contextualize(input, task string) string {
	task = strings.TrimSpace(task)
	if task == "" {
		return input
	}
	return fmt.Sprintf("%s\nTask context: %s", input, task)
}
