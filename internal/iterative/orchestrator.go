package iterative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/types"
)

// OrchestratorConfig wires the components of a refinement run.
type OrchestratorConfig struct {
	Analyzer  Analyzer
	Suggester Suggester
	Rewriter  Rewriter
	Validator Validator        // Optional; nil skips A/B validation
	Sink      ResultSink       // Optional
	Collector MetricsCollector // Optional
	Runs      ai.RunCloser     // Optional; released when a run finishes
	Logger    *slog.Logger
}

// Orchestrator runs the refinement loop. It holds no per-run state and is
// safe for concurrent use when its components are.
type Orchestrator struct {
	analyzer  Analyzer
	suggester Suggester
	rewriter  Rewriter
	validator Validator
	sink      ResultSink
	collector MetricsCollector
	runs      ai.RunCloser
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg *OrchestratorConfig) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Analyzer == nil || cfg.Suggester == nil || cfg.Rewriter == nil {
		return nil, fmt.Errorf("analyzer, suggester and rewriter are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		analyzer:  cfg.Analyzer,
		suggester: cfg.Suggester,
		rewriter:  cfg.Rewriter,
		validator: cfg.Validator,
		sink:      cfg.Sink,
		collector: cfg.Collector,
		runs:      cfg.Runs,
		logger:    logger,
	}, nil
}

// run is the mutable state of one refinement, discarded when Refine returns.
type run struct {
	result      *types.RefinementResult
	metrics     *RunMetrics
	startTime   time.Time
	current     types.PromptCandidate
	currentQual types.QualityScore
	best        types.PromptCandidate
	bestQual    types.QualityScore
}

// Refine improves prompt and returns the outcome. It never returns nil and
// never panics: faults are reported as a failed result that carries the
// original prompt.
func (o *Orchestrator) Refine(ctx context.Context, prompt types.PromptCandidate, cfg Config) (result *types.RefinementResult) {
	r := &run{
		result: &types.RefinementResult{
			ID:              uuid.NewString(),
			PromptID:        prompt.ID,
			TaskDescription: prompt.Task,
			OriginalPrompt:  prompt,
			RefinedPrompt:   prompt,
			Status:          types.RefinementPending,
			History:         []types.QualityScore{},
		},
		startTime: time.Now(),
	}
	r.result.CreatedAt = r.startTime
	r.metrics = &RunMetrics{RunID: r.result.ID, PromptID: prompt.ID}
	result = r.result

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("refinement panicked", "run_id", r.result.ID, "panic", p)
			o.fail(r, fmt.Errorf("internal error: %v", p), StopError)
		}
		o.finish(ctx, r)
	}()

	if err := cfg.Validate(); err != nil {
		o.fail(r, fmt.Errorf("invalid refinement config: %w", err), StopError)
		return
	}
	if err := prompt.Validate(); err != nil {
		o.fail(r, err, StopError)
		return
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	ctx = ai.WithRunID(ctx, r.result.ID)

	o.logger.Info("refinement started",
		"run_id", r.result.ID,
		"prompt_id", prompt.ID,
		"max_iterations", cfg.MaxIterations,
		"quality_threshold", cfg.QualityThreshold)

	o.transition(r, types.RefinementAnalyzing)
	initial := o.analyzer.Analyze(ctx, prompt)
	r.result.History = append(r.result.History, initial)
	r.result.InitialQuality = initial.Overall
	r.result.FinalQuality = initial.Overall
	r.metrics.InitialQuality = initial.Overall

	if err := ctx.Err(); err != nil {
		o.fail(r, fmt.Errorf("refinement canceled before first iteration: %w", err), StopCanceled)
		return
	}

	if initial.Overall >= cfg.QualityThreshold {
		r.metrics.StopReason = StopThresholdMet
		o.transition(r, types.RefinementCompleted)
		return
	}

	r.current, r.currentQual = prompt, initial
	r.best, r.bestQual = prompt, initial

	stop, executed, err := o.iterate(ctx, r, cfg)
	r.result.Iterations = min(executed, cfg.MaxIterations)
	if err != nil {
		o.fail(r, err, stop)
		return
	}
	r.metrics.StopReason = stop

	r.result.RefinedPrompt = r.best
	r.result.FinalQuality = r.bestQual.Overall
	r.result.QualityImprovement = r.bestQual.Overall - initial.Overall

	if r.result.QualityImprovement > cfg.ImprovementThreshold {
		r.result.ABTestTriggered = true
		o.validate(ctx, r)
	}

	o.transition(r, types.RefinementCompleted)
	return
}

// iterate runs the suggest/apply/re-analyze rounds and returns the stop
// reason and how many rounds were started.
func (o *Orchestrator) iterate(ctx context.Context, r *run, cfg Config) (string, int, error) {
	retriesLeft := cfg.SuggestionRetries
	executed := 0

	for i := 1; i <= cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return StopCanceled, executed, fmt.Errorf("refinement canceled after %d iterations: %w", executed, err)
		}
		executed = i
		if o.collector != nil {
			o.collector.RecordIterationStart(r.result.ID, i)
		}
		iterationStart := time.Now()

		o.transition(r, types.RefinementRefining)
		suggestions := o.suggester.Suggest(ctx, r.current, r.currentQual)
		candidate := o.rewriter.Apply(ctx, r.current, suggestions)

		o.transition(r, types.RefinementAnalyzing)
		candidateQual := o.analyzer.Analyze(ctx, candidate)
		r.result.History = append(r.result.History, candidateQual)

		// Scores produced after cancellation are fallbacks and must not steer the run
		if err := ctx.Err(); err != nil {
			return StopCanceled, executed, fmt.Errorf("refinement canceled during iteration %d: %w", i, err)
		}

		delta := candidateQual.Overall - r.currentQual.Overall
		accepted := delta > cfg.ImprovementThreshold

		iterMetrics := &IterationMetrics{
			Iteration:        i,
			Suggestions:      len(suggestions),
			CurrentQuality:   r.currentQual.Overall,
			CandidateQuality: candidateQual.Overall,
			Delta:            delta,
			Accepted:         accepted,
			Rewritten:        !candidate.SameContent(r.current),
			Duration:         time.Since(iterationStart),
		}
		iterMetrics.DiffLines, iterMetrics.DiffPercent = diffStats(r.current.Content, candidate.Content)
		r.metrics.Iterations = append(r.metrics.Iterations, iterMetrics)
		if o.collector != nil {
			o.collector.RecordIterationEnd(r.result.ID, iterMetrics)
		}

		o.logger.Debug("refinement iteration",
			"run_id", r.result.ID,
			"iteration", i,
			"current", r.currentQual.Overall,
			"candidate", candidateQual.Overall,
			"delta", delta,
			"accepted", accepted)

		if !accepted {
			if retriesLeft > 0 {
				retriesLeft--
				continue
			}
			return StopNoImprovement, executed, nil
		}

		r.metrics.AcceptedIterations++
		r.current, r.currentQual = candidate, candidateQual
		if candidateQual.Overall > r.bestQual.Overall {
			r.best, r.bestQual = candidate, candidateQual
		}
		if r.currentQual.Overall >= cfg.QualityThreshold {
			return StopThresholdHit, executed, nil
		}
	}

	return StopMaxIterations, executed, nil
}

// validate hands the original and best prompts to the validator. Errors are
// recorded on the result and do not fail the run.
func (o *Orchestrator) validate(ctx context.Context, r *run) {
	if o.validator == nil {
		return
	}
	o.transition(r, types.RefinementValidating)

	validation, err := o.validator.ValidateRefinement(ctx, r.result.OriginalPrompt, r.result.RefinedPrompt)
	if err != nil {
		r.result.ValidationError = err.Error()
		if o.collector != nil {
			o.collector.RecordValidationError(r.result.ID, err)
		}
		o.logger.Warn("refinement validation failed", "run_id", r.result.ID, "error", err)
		return
	}
	r.result.Validation = validation
}

func (o *Orchestrator) transition(r *run, next types.RefinementStatus) {
	if !r.result.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("illegal refinement transition %s -> %s", r.result.Status, next))
	}
	r.result.Status = next
}

// fail moves the run to failed and restores the original prompt.
func (o *Orchestrator) fail(r *run, err error, reason string) {
	if r.result.Status == types.RefinementFailed {
		return
	}
	r.result.Status = types.RefinementFailed
	r.result.ErrorMessage = err.Error()
	r.result.RefinedPrompt = r.result.OriginalPrompt
	r.result.FinalQuality = r.result.InitialQuality
	r.result.QualityImprovement = 0
	r.result.ABTestTriggered = false
	r.result.Validation = nil
	r.metrics.StopReason = reason

	level := slog.LevelError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelWarn
	}
	o.logger.Log(context.Background(), level, "refinement failed", "run_id", r.result.ID, "error", err)
}

// finish stamps timing, records metrics and persists the result.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.result.ProcessingTime = time.Since(r.startTime)

	r.metrics.Status = r.result.Status
	r.metrics.TotalIterations = r.result.Iterations
	r.metrics.FinalQuality = r.result.FinalQuality
	r.metrics.QualityImprovement = r.result.QualityImprovement
	r.metrics.ABTestTriggered = r.result.ABTestTriggered
	r.metrics.TotalDuration = r.result.ProcessingTime
	if o.collector != nil {
		o.collector.RecordRunComplete(r.result, r.metrics)
	}
	if o.runs != nil {
		o.runs.EndRun(r.result.ID)
	}

	if o.sink != nil {
		// Persist even when the caller's context is already canceled
		o.sink.SaveRefinementResult(context.WithoutCancel(ctx), r.result)
	}

	o.logger.Info("refinement finished",
		"run_id", r.result.ID,
		"status", r.result.Status,
		"iterations", r.result.Iterations,
		"initial", r.result.InitialQuality,
		"final", r.result.FinalQuality,
		"improvement", r.result.QualityImprovement,
		"ab_test_triggered", r.result.ABTestTriggered,
		"stop_reason", r.metrics.StopReason,
		"duration", r.result.ProcessingTime)
}
