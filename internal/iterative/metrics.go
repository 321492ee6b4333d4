package iterative

import (
	"sort"
	"sync"
	"time"

	"github.com/promptlab/refinery/internal/types"
)

// MetricsCollector provides instrumentation for refinement runs.
// Implementations can track per-iteration and per-run metrics to measure
// quality improvement, acceptance behavior and latency.
//
// This interface is optional - pass a nil Collector to NewOrchestrator to
// disable metrics collection.
type MetricsCollector interface {
	// RecordIterationStart is called at the beginning of each refinement iteration
	RecordIterationStart(runID string, iteration int)

	// RecordIterationEnd is called when an iteration has been judged
	RecordIterationEnd(runID string, metrics *IterationMetrics)

	// RecordRunComplete is called once per run, whatever its outcome
	RecordRunComplete(result *types.RefinementResult, metrics *RunMetrics)

	// RecordValidationError is called when the advisory A/B validation fails
	RecordValidationError(runID string, err error)

	// GetAggregateMetrics returns rolled-up statistics across all runs
	GetAggregateMetrics() *AggregateMetrics
}

// IterationMetrics captures one suggest/apply/re-analyze round.
type IterationMetrics struct {
	// Iteration is the iteration number (1-based)
	Iteration int

	// Suggestions is how many suggestions were applied
	Suggestions int

	// CurrentQuality is the overall score the candidate had to beat
	CurrentQuality float64

	// CandidateQuality is the overall score of the rewrite
	CandidateQuality float64

	// Delta is CandidateQuality - CurrentQuality
	Delta float64

	// Accepted indicates whether the rewrite became the current prompt
	Accepted bool

	// Rewritten is false when the rewrite step failed and returned its input
	Rewritten bool

	// DiffLines is the number of lines changed from the current prompt
	DiffLines int

	// DiffPercent is the percentage of the candidate that changed
	DiffPercent float64

	// Duration is the time spent on this iteration
	Duration time.Duration
}

// RunMetrics captures metrics for an entire refinement run.
type RunMetrics struct {
	RunID    string
	PromptID string

	// Status is the terminal status of the run
	Status types.RefinementStatus

	// StopReason explains why refinement stopped (see the Stop* constants)
	StopReason string

	// TotalIterations is the number of iterations reported on the result
	TotalIterations int

	// AcceptedIterations is the number of rewrites that were kept
	AcceptedIterations int

	InitialQuality     float64
	FinalQuality       float64
	QualityImprovement float64

	// ABTestTriggered mirrors the result flag
	ABTestTriggered bool

	// TotalDuration is the wall time of the run
	TotalDuration time.Duration

	// Iterations contains the per-iteration metrics
	Iterations []*IterationMetrics
}

// AggregateMetrics provides rolled-up statistics across runs.
type AggregateMetrics struct {
	TotalRuns     int
	CompletedRuns int
	FailedRuns    int

	// ShortCircuitRuns were already above the quality threshold
	ShortCircuitRuns int

	// TotalIterations is the sum of iterations across all runs
	TotalIterations int

	AcceptedIterations int
	RejectedIterations int

	// FailedRewrites counts iterations whose rewrite step was a no-op
	FailedRewrites int

	// MeanIterations is the average iterations per run
	MeanIterations float64

	// P50Iterations is the median iterations per completed run
	P50Iterations int

	// P95Iterations is the 95th percentile iterations per completed run
	P95Iterations int

	// MeanQualityImprovement is averaged over completed runs
	MeanQualityImprovement float64

	ABTestsTriggered int
	ValidationErrors int

	// TotalDuration is the sum of all run durations
	TotalDuration time.Duration

	// ByStopReason breaks down runs by why they stopped
	ByStopReason map[string]*ReasonMetrics
}

// AcceptanceRate is the fraction of iterations whose rewrite was kept.
func (a *AggregateMetrics) AcceptanceRate() float64 {
	total := a.AcceptedIterations + a.RejectedIterations
	if total == 0 {
		return 0
	}
	return float64(a.AcceptedIterations) / float64(total)
}

// CompletionRate is the fraction of runs that completed.
func (a *AggregateMetrics) CompletionRate() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.CompletedRuns) / float64(a.TotalRuns)
}

// ReasonMetrics provides aggregate statistics for one stop reason.
type ReasonMetrics struct {
	// Count is the number of runs that stopped for this reason
	Count int

	// MeanIterations is the average iterations for these runs
	MeanIterations float64

	// MeanQualityImprovement is the average quality delta
	MeanQualityImprovement float64
}

// InMemoryMetricsCollector is a simple in-memory implementation of
// MetricsCollector. It is safe for concurrent runs.
type InMemoryMetricsCollector struct {
	mu sync.Mutex

	// runs holds all finished run metrics
	runs []*RunMetrics

	// inFlight tracks iterations of runs that have not finished
	inFlight map[string][]*IterationMetrics

	validationErrors int
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		runs:     make([]*RunMetrics, 0),
		inFlight: make(map[string][]*IterationMetrics),
	}
}

// RecordIterationStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationStart(runID string, iteration int) {
	// Nothing to do - we record metrics at iteration end
}

// RecordIterationEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationEnd(runID string, metrics *IterationMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[runID] = append(m.inFlight[runID], metrics)
}

// RecordValidationError implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordValidationError(runID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationErrors++
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(result *types.RefinementResult, metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if iterations, ok := m.inFlight[metrics.RunID]; ok {
		metrics.Iterations = iterations
		delete(m.inFlight, metrics.RunID)
	}
	m.runs = append(m.runs, metrics)
}

// GetRuns returns all collected run metrics (useful for analysis)
func (m *InMemoryMetricsCollector) GetRuns() []*RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RunMetrics(nil), m.runs...)
}

// GetAggregateMetrics implements MetricsCollector
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{
		ByStopReason:     make(map[string]*ReasonMetrics),
		ValidationErrors: m.validationErrors,
	}
	if len(m.runs) == 0 {
		return agg
	}

	var iterationCounts []int
	var improvementSum float64

	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalIterations += run.TotalIterations
		agg.TotalDuration += run.TotalDuration
		if run.ABTestTriggered {
			agg.ABTestsTriggered++
		}

		for _, it := range run.Iterations {
			if it.Accepted {
				agg.AcceptedIterations++
			} else {
				agg.RejectedIterations++
			}
			if !it.Rewritten {
				agg.FailedRewrites++
			}
		}

		switch run.Status {
		case types.RefinementCompleted:
			agg.CompletedRuns++
			iterationCounts = append(iterationCounts, run.TotalIterations)
			improvementSum += run.QualityImprovement
		case types.RefinementFailed:
			agg.FailedRuns++
		}
		if run.StopReason == StopThresholdMet {
			agg.ShortCircuitRuns++
		}

		if run.StopReason != "" {
			updateReasonMetrics(agg.ByStopReason, run.StopReason, run)
		}
	}

	agg.MeanIterations = float64(agg.TotalIterations) / float64(agg.TotalRuns)

	if len(iterationCounts) > 0 {
		sort.Ints(iterationCounts)
		agg.P50Iterations = percentile(iterationCounts, 50)
		agg.P95Iterations = percentile(iterationCounts, 95)
		agg.MeanQualityImprovement = improvementSum / float64(len(iterationCounts))
	}

	return agg
}

// Helper: updateReasonMetrics folds a run into its stop-reason bucket
func updateReasonMetrics(metrics map[string]*ReasonMetrics, key string, run *RunMetrics) {
	rm := metrics[key]
	if rm == nil {
		rm = &ReasonMetrics{}
		metrics[key] = rm
	}

	rm.Count++
	n := float64(rm.Count)

	// Incremental mean update
	rm.MeanIterations += (float64(run.TotalIterations) - rm.MeanIterations) / n
	rm.MeanQualityImprovement += (run.QualityImprovement - rm.MeanQualityImprovement) / n
}

// Helper: percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
