package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	mean, std := Describe(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = Describe([]float64{0.7})
	assert.Equal(t, 0.7, mean)
	assert.Zero(t, std)

	mean, std = Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	// Unbiased: sum of squares 32 over n-1 = 7
	assert.InDelta(t, math.Sqrt(32.0/7.0), std, 1e-12)
}

func TestAnalyze_IdenticalVectorsTie(t *testing.T) {
	a := []float64{0.6, 0.7, 0.65, 0.72, 0.68}
	b := append([]float64(nil), a...)

	got := Analyze(a, b, 0.05)

	assert.Empty(t, got.Error)
	assert.Zero(t, got.MeanDiff)
	assert.Zero(t, got.TStatistic)
	assert.InDelta(t, 1.0, got.PValue, 1e-9)
	assert.False(t, got.IsSignificant)
	assert.Zero(t, got.EffectSize)
	assert.InDelta(t, -got.CIHigh, got.CILow, 1e-12)
}

func TestAnalyze_SingleObservationPerSide(t *testing.T) {
	got := Analyze([]float64{0.5}, []float64{0.9}, 0.05)

	assert.Empty(t, got.Error)
	assert.InDelta(t, 0.4, got.MeanDiff, 1e-12)
	assert.Equal(t, 1.0, got.PValue)
	assert.False(t, got.IsSignificant)
	assert.Zero(t, got.EffectSize)
	assert.False(t, math.IsNaN(got.CILow) || math.IsNaN(got.CIHigh))
}

func TestAnalyze_ZeroVarianceBothSides(t *testing.T) {
	got := Analyze([]float64{0.5, 0.5, 0.5}, []float64{0.8, 0.8, 0.8}, 0.05)
	_, std := Describe([]float64{0.8, 0.8, 0.8})
	assert.Zero(t, std)

	assert.Equal(t, 1.0, got.PValue)
	assert.False(t, got.IsSignificant)
	assert.Zero(t, got.EffectSize)
	assert.InDelta(t, 0.3, got.CILow, 1e-12)
	assert.InDelta(t, 0.3, got.CIHigh, 1e-12)
}

func TestAnalyze_LargeEffectIsSignificant(t *testing.T) {
	a := []float64{0.50, 0.52, 0.48, 0.51, 0.49, 0.50, 0.52, 0.48, 0.51, 0.49}
	b := []float64{0.75, 0.77, 0.73, 0.76, 0.74, 0.75, 0.77, 0.73, 0.76, 0.74}

	got := Analyze(a, b, 0.05)

	require.Empty(t, got.Error)
	assert.Less(t, got.PValue, 0.05)
	assert.True(t, got.IsSignificant)
	assert.Greater(t, got.TStatistic, 0.0)
	assert.Greater(t, got.EffectSize, 0.8)
	assert.InDelta(t, 0.25, got.MeanDiff, 1e-9)
	assert.Less(t, got.CILow, got.MeanDiff)
	assert.Greater(t, got.CIHigh, got.MeanDiff)
	assert.Greater(t, got.CILow, 0.0)
	assert.InDelta(t, 18.0, got.DegreesOfFreedom, 1e-6)
	assert.Equal(t, 10, got.SampleSizeA)
	assert.Equal(t, 10, got.SampleSizeB)
}

func TestAnalyze_DirectionOfEffect(t *testing.T) {
	a := []float64{0.8, 0.82, 0.79, 0.81}
	b := []float64{0.4, 0.42, 0.39, 0.41}

	got := Analyze(a, b, 0.05)

	assert.True(t, got.IsSignificant)
	assert.Less(t, got.MeanDiff, 0.0)
	assert.Less(t, got.TStatistic, 0.0)
	assert.Less(t, got.EffectSize, 0.0)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
	}{
		{"empty A", nil, []float64{0.5, 0.6}},
		{"empty B", []float64{0.5, 0.6}, []float64{}},
		{"both empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.a, tt.b, 0.05)
			assert.Equal(t, ErrInsufficientData, got.Error)
			assert.Equal(t, 1.0, got.PValue)
			assert.False(t, got.IsSignificant)
		})
	}
}

func TestAnalyze_SignificanceMatchesAlpha(t *testing.T) {
	a := []float64{0.50, 0.58, 0.45, 0.62, 0.52, 0.47}
	b := []float64{0.56, 0.64, 0.50, 0.66, 0.59, 0.54}

	for _, alpha := range []float64{0.01, 0.05, 0.1, 0.5} {
		got := Analyze(a, b, alpha)
		assert.Equal(t, got.PValue < alpha, got.IsSignificant, "alpha=%v p=%v", alpha, got.PValue)
		assert.Equal(t, alpha, got.SignificanceLevel)
	}
}

func TestAnalyze_InvalidAlphaFallsBack(t *testing.T) {
	for _, alpha := range []float64{0, -0.1, 1, 2} {
		got := Analyze([]float64{1, 2}, []float64{1, 2}, alpha)
		assert.Equal(t, DefaultSignificanceLevel, got.SignificanceLevel)
	}
}

func TestWelchTTest_KnownValue(t *testing.T) {
	// Equal sizes and variances: df = 2n-2, t = diff / sqrt(2 s^2 / n)
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{3, 4, 5, 6, 7}

	tStat, df, p := WelchTTest(a, b)

	assert.InDelta(t, 2/math.Sqrt(1.0), tStat, 1e-12)
	assert.InDelta(t, 8.0, df, 1e-12)
	// Two-sided p for t=2, df=8
	assert.InDelta(t, 0.0805, p, 5e-4)
}

func TestPValueInUnitInterval(t *testing.T) {
	samples := [][2][]float64{
		{{0.1, 0.9}, {0.2, 0.8}},
		{{0, 0, 1}, {1, 1, 0}},
		{{0.3, 0.31, 0.29}, {0.9, 0.91, 0.89}},
	}
	for _, s := range samples {
		got := Analyze(s[0], s[1], 0.05)
		assert.GreaterOrEqual(t, got.PValue, 0.0)
		assert.LessOrEqual(t, got.PValue, 1.0)
	}
}
