package abtest

import (
	"fmt"

	"github.com/promptlab/refinery/internal/types"
)

// Warning thresholds for B relative to A.
const (
	varianceInflation = 1.5
	latencyInflation  = 1.2
)

// Recommendation texts for each winner.
const (
	RecommendAdoptB   = "Variant B is significantly better: adopt it."
	RecommendReviewA  = "Variant A performed better: review the refinement before adopting it."
	RecommendBroaden  = "No significant difference: broaden the test cases to gather more evidence."
	RecommendNoResult = "The analysis could not be computed: rerun the test with more test cases."
)

// DetermineWinner picks the winner from an analysis. WinnerNone means the
// analysis failed; otherwise a significant difference favors the side with
// the higher mean and anything else is a tie.
func DetermineWinner(a types.StatisticalAnalysis) types.Winner {
	if a.Error != "" {
		return types.WinnerNone
	}
	if a.PValue < a.SignificanceLevel {
		if a.MeanDiff > 0 {
			return types.WinnerB
		}
		return types.WinnerA
	}
	return types.WinnerTie
}

// Recommend returns every applicable recommendation, winner guidance first.
func Recommend(winner types.Winner, a types.StatisticalAnalysis) []string {
	var recs []string
	switch winner {
	case types.WinnerB:
		recs = append(recs, RecommendAdoptB)
	case types.WinnerA:
		recs = append(recs, RecommendReviewA)
	case types.WinnerTie:
		recs = append(recs, RecommendBroaden)
	default:
		recs = append(recs, RecommendNoResult)
		return recs
	}

	if a.VarB() > varianceInflation*a.VarA() {
		recs = append(recs, fmt.Sprintf(
			"Variant B is less consistent (variance %.4f vs %.4f): check it against edge cases.",
			a.VarB(), a.VarA()))
	}
	if a.MeanTimeB > latencyInflation*a.MeanTimeA {
		recs = append(recs, fmt.Sprintf(
			"Variant B is slower (%.2fs vs %.2fs mean): consider the latency cost.",
			a.MeanTimeB, a.MeanTimeA))
	}
	return recs
}
