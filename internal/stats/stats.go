// Package stats compares two score samples: descriptive statistics, Welch's
// t-test, Cohen's d and a normal-approximation confidence interval.
//
// Nothing here returns an error. Degenerate input (empty samples, a single
// observation, zero variance) produces a neutral result with p = 1 so callers
// never mistake noise for a significant difference.
package stats

import (
	"math"

	"github.com/promptlab/refinery/internal/types"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSignificanceLevel is the alpha used when none is given.
const DefaultSignificanceLevel = 0.05

// ErrInsufficientData is the analysis error for samples with no scores.
const ErrInsufficientData = "insufficient data"

// z95 is the two-sided 95% standard normal quantile.
const z95 = 1.96

// Variances below this are rounding noise from the mean computation.
const varianceFloor = 1e-15

// Describe returns the sample mean and unbiased standard deviation.
// The standard deviation is 0 when len(x) <= 1.
func Describe(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	mean, variance := stat.MeanVariance(x, nil)
	if math.IsNaN(variance) || variance < varianceFloor {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// WelchTTest runs a two-sided t-test without assuming equal variances and
// returns the t statistic, Welch-Satterthwaite degrees of freedom and p-value.
// When the test is undefined (fewer than two observations on a side, zero
// variance on both sides, or a non-finite intermediate) it returns t=0, p=1.
func WelchTTest(a, b []float64) (t, df, p float64) {
	nA, nB := float64(len(a)), float64(len(b))
	if len(a) < 2 || len(b) < 2 {
		return 0, 0, 1
	}
	meanA, stdA := Describe(a)
	meanB, stdB := Describe(b)

	seA := stdA * stdA / nA
	seB := stdB * stdB / nB
	if seA+seB == 0 {
		return 0, 0, 1
	}

	t = (meanB - meanA) / math.Sqrt(seA+seB)
	df = (seA + seB) * (seA + seB) / (seA*seA/(nA-1) + seB*seB/(nB-1))
	if !isFinite(t) || !isFinite(df) || df <= 0 {
		return 0, 0, 1
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * dist.CDF(-math.Abs(t))
	if !isFinite(p) {
		return 0, 0, 1
	}
	return t, df, math.Min(1, math.Max(0, p))
}

// CohensD returns (mean(b) - mean(a)) / pooled standard deviation, or 0 when
// the pooled deviation is zero or undefined.
func CohensD(a, b []float64) float64 {
	nA, nB := float64(len(a)), float64(len(b))
	if nA+nB-2 <= 0 {
		return 0
	}
	meanA, stdA := Describe(a)
	meanB, stdB := Describe(b)

	pooled := math.Sqrt(((nA-1)*stdA*stdA + (nB-1)*stdB*stdB) / (nA + nB - 2))
	if pooled == 0 || !isFinite(pooled) {
		return 0
	}
	return (meanB - meanA) / pooled
}

// ConfidenceInterval95 returns the normal-approximation 95% interval on
// mean(b) - mean(a).
func ConfidenceInterval95(a, b []float64) (low, high float64) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	meanA, stdA := Describe(a)
	meanB, stdB := Describe(b)
	diff := meanB - meanA
	margin := z95 * math.Sqrt(stdA*stdA/float64(len(a))+stdB*stdB/float64(len(b)))
	return diff - margin, diff + margin
}

// Analyze compares scoresA (control) with scoresB (candidate) at the given
// significance level. An alpha outside (0,1) falls back to
// DefaultSignificanceLevel.
func Analyze(scoresA, scoresB []float64, alpha float64) types.StatisticalAnalysis {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultSignificanceLevel
	}

	analysis := types.StatisticalAnalysis{
		SignificanceLevel: alpha,
		SampleSizeA:       len(scoresA),
		SampleSizeB:       len(scoresB),
		PValue:            1,
	}
	if len(scoresA) == 0 || len(scoresB) == 0 {
		analysis.Error = ErrInsufficientData
		return analysis
	}

	analysis.MeanA, analysis.StdA = Describe(scoresA)
	analysis.MeanB, analysis.StdB = Describe(scoresB)
	analysis.MeanDiff = analysis.MeanB - analysis.MeanA

	analysis.TStatistic, analysis.DegreesOfFreedom, analysis.PValue = WelchTTest(scoresA, scoresB)
	analysis.EffectSize = CohensD(scoresA, scoresB)
	analysis.CILow, analysis.CIHigh = ConfidenceInterval95(scoresA, scoresB)
	analysis.IsSignificant = analysis.PValue < alpha

	return analysis
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
