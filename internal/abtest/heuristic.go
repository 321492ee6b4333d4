package abtest

import (
	"strings"
	"unicode"

	"github.com/promptlab/refinery/internal/types"
)

// Heuristic score weights.
const (
	baseScore       = 0.5
	lengthBonus     = 0.2
	lengthPenalty   = 0.1
	relevanceWeight = 0.3
	minOutputWords  = 10
	maxOutputWords  = 500
)

// HeuristicScore rates an output without calling a model: a base of 0.5,
// +0.2 when the output has 10..500 words (-0.1 otherwise), plus up to 0.3 for
// the share of the input's distinct words that reappear in the output.
// The result is clamped to [0,1].
func HeuristicScore(input, output string) float64 {
	outWords := words(output)

	score := baseScore
	if n := len(outWords); n >= minOutputWords && n <= maxOutputWords {
		score += lengthBonus
	} else {
		score -= lengthPenalty
	}

	inSet := wordSet(words(input))
	if len(inSet) > 0 {
		outSet := wordSet(outWords)
		overlap := 0
		for w := range inSet {
			if _, ok := outSet[w]; ok {
				overlap++
			}
		}
		score += relevanceWeight * float64(overlap) / float64(len(inSet))
	}

	return types.Clamp01(score)
}

func words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func wordSet(ws []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		set[w] = struct{}{}
	}
	return set
}
