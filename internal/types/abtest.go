package types

import (
	"time"
)

// TestCase is one input scenario used to exercise a prompt.
type TestCase struct {
	ID               string `json:"id"`
	InputText        string `json:"input_text"`
	ExpectedCriteria string `json:"expected_criteria,omitempty"`
	Category         string `json:"category,omitempty"`
}

// Variant identifies one side of an A/B test.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Winner is the outcome of an A/B test. WinnerNone means the analysis
// could not be computed.
type Winner string

const (
	WinnerA    Winner = "A"
	WinnerB    Winner = "B"
	WinnerTie  Winner = "tie"
	WinnerNone Winner = ""
)

// TestResult is the output of one variant on one test case.
type TestResult struct {
	TestCaseID     string         `json:"test_case_id"`
	Variant        Variant        `json:"variant"`
	Output         string         `json:"output"`
	ProcessingTime time.Duration  `json:"processing_time"`
	QualityScore   *float64       `json:"quality_score,omitempty"`
	TokensUsed     int            `json:"tokens_used,omitempty"`
	Cost           float64        `json:"cost,omitempty"`
	CustomMetrics  map[string]any `json:"custom_metrics,omitempty"`
}

// Failed reports whether the execution behind this result failed.
func (r TestResult) Failed() bool {
	_, ok := r.CustomMetrics["error"]
	return ok
}

// StatisticalAnalysis compares the score vectors of two variants.
type StatisticalAnalysis struct {
	MeanA             float64 `json:"mean_a"`
	MeanB             float64 `json:"mean_b"`
	StdA              float64 `json:"std_a"`
	StdB              float64 `json:"std_b"`
	MeanDiff          float64 `json:"mean_diff"` // MeanB - MeanA
	TStatistic        float64 `json:"t_statistic"`
	DegreesOfFreedom  float64 `json:"degrees_of_freedom"`
	PValue            float64 `json:"p_value"`
	EffectSize        float64 `json:"effect_size"` // Cohen's d
	CILow             float64 `json:"ci_low"`
	CIHigh            float64 `json:"ci_high"`
	IsSignificant     bool    `json:"is_significant"`
	SignificanceLevel float64 `json:"significance_level"`
	SampleSizeA       int     `json:"sample_size_a"`
	SampleSizeB       int     `json:"sample_size_b"`
	MeanTimeA         float64 `json:"mean_time_a"` // seconds
	MeanTimeB         float64 `json:"mean_time_b"` // seconds
	Error             string  `json:"error,omitempty"`
}

// VarA returns the sample variance of variant A.
func (s StatisticalAnalysis) VarA() float64 { return s.StdA * s.StdA }

// VarB returns the sample variance of variant B.
func (s StatisticalAnalysis) VarB() float64 { return s.StdB * s.StdB }

// ABTestResult is the outcome of running two prompt variants over the same
// test cases. ResultsA and ResultsB are index-aligned with TestCases.
type ABTestResult struct {
	TestID          string              `json:"test_id"`
	PromptA         PromptCandidate     `json:"prompt_a"`
	PromptB         PromptCandidate     `json:"prompt_b"`
	TestCases       []TestCase          `json:"test_cases"`
	ResultsA        []TestResult        `json:"results_a"`
	ResultsB        []TestResult        `json:"results_b"`
	Analysis        StatisticalAnalysis `json:"statistical_analysis"`
	Winner          Winner              `json:"winner"`
	ConfidenceLevel float64             `json:"confidence_level"`
	EffectSize      *float64            `json:"effect_size,omitempty"`
	Recommendations []string            `json:"recommendations"`
	ExecutionTime   time.Duration       `json:"execution_time"`
	TranscriptURI   string              `json:"transcript_uri,omitempty"` // archived outputs, if any
	CreatedAt       time.Time           `json:"created_at"`
}

// ValidationResult answers whether a refined prompt is a statistically and
// practically significant improvement. It is derived from an ABTestResult.
type ValidationResult struct {
	TestID                   string    `json:"test_id"`
	IsSignificantImprovement bool      `json:"is_significant_improvement"`
	ImprovementPercentage    float64   `json:"improvement_percentage"` // fraction: 0.10 == 10%
	CILow                    float64   `json:"ci_low"`
	CIHigh                   float64   `json:"ci_high"`
	PValue                   float64   `json:"p_value"`
	EffectSize               float64   `json:"effect_size"`
	SampleSize               int       `json:"sample_size"`
	CreatedAt                time.Time `json:"created_at"`
}
