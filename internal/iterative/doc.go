// Package iterative drives prompt refinement: analyze, suggest, apply,
// re-analyze, until the prompt is good enough or stops getting better.
//
// # Loop
//
// The Orchestrator judges the original prompt first. A prompt that already
// meets QualityThreshold is returned untouched with zero iterations. Otherwise
// each iteration asks for suggestions on the current prompt, rewrites it, and
// judges the rewrite. A rewrite is accepted only when its overall score beats
// the current one by more than ImprovementThreshold. The first rejected
// rewrite ends the run, unless SuggestionRetries allows another attempt
// within the same MaxIterations budget.
//
// A run therefore makes at most 2*MaxIterations+1 judge and rewrite calls,
// plus one suggestion call per iteration.
//
// # States
//
//	pending -> analyzing -> refining -> analyzing -> ... -> validating -> completed
//
// Any state may move to failed. A failed run always carries the original
// prompt as its refined prompt.
//
// # Validation
//
// When the best candidate improves on the original by more than
// ImprovementThreshold, the run is flagged ABTestTriggered and, if a
// Validator is configured, the pair is A/B tested. Validation is advisory:
// its errors are recorded on the result but the run still completes.
//
// # Metrics
//
// Pass a MetricsCollector to record per-iteration deltas and per-run
// outcomes. InMemoryMetricsCollector aggregates acceptance rates, stop
// reasons and iteration percentiles. Metrics collection is optional; pass nil
// to disable it.
//
// # Cancellation
//
// The context is checked before every iteration. A cancelled run ends as
// failed with the original prompt. Components below the orchestrator never
// return errors, so the only orchestration-level faults are cancellation,
// invalid input and recovered panics.
package iterative
