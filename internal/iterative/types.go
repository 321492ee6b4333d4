package iterative

import (
	"context"
	"fmt"
	"time"

	"github.com/promptlab/refinery/internal/types"
)

// Config controls the refinement loop.
type Config struct {
	// MaxIterations caps suggest/apply/re-analyze rounds. Zero analyzes the
	// prompt and completes without rewriting it. Default: 3.
	MaxIterations int

	// QualityThreshold is the overall score at which a prompt is good
	// enough. Default: 0.8.
	QualityThreshold float64

	// ImprovementThreshold is the minimum overall gain for a rewrite to be
	// accepted, and the gain over the original that triggers validation.
	// Default: 0.05.
	ImprovementThreshold float64

	// SuggestionRetries is how many rejected rewrites are tolerated before
	// the run stops. Each retry still consumes an iteration. Default: 0,
	// which stops on the first non-improving rewrite.
	SuggestionRetries int

	// Timeout bounds the whole run. Zero means no timeout.
	Timeout time.Duration
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        3,
		QualityThreshold:     0.8,
		ImprovementThreshold: 0.05,
	}
}

// Validate checks the loop settings.
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("MaxIterations cannot be negative (got %d)", c.MaxIterations)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("QualityThreshold must be between 0 and 1 (got %.2f)", c.QualityThreshold)
	}
	if c.ImprovementThreshold < 0 || c.ImprovementThreshold > 1 {
		return fmt.Errorf("ImprovementThreshold must be between 0 and 1 (got %.2f)", c.ImprovementThreshold)
	}
	if c.SuggestionRetries < 0 {
		return fmt.Errorf("SuggestionRetries cannot be negative (got %d)", c.SuggestionRetries)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("Timeout cannot be negative (got %v)", c.Timeout)
	}
	return nil
}

// Analyzer judges a prompt. analysis.QualityAnalyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, prompt types.PromptCandidate) types.QualityScore
}

// Suggester proposes improvements. analysis.SuggestionGenerator implements it.
type Suggester interface {
	Suggest(ctx context.Context, prompt types.PromptCandidate, score types.QualityScore) []types.Suggestion
}

// Rewriter applies suggestions. analysis.PromptRefiner implements it.
type Rewriter interface {
	Apply(ctx context.Context, prompt types.PromptCandidate, suggestions []types.Suggestion) types.PromptCandidate
}

// Validator A/B tests an original prompt against its refinement.
// validation.Service implements it.
type Validator interface {
	ValidateRefinement(ctx context.Context, original, refined types.PromptCandidate) (*types.ValidationResult, error)
}

// ResultSink persists finished runs. storage.Recorder implements it.
type ResultSink interface {
	SaveRefinementResult(ctx context.Context, result *types.RefinementResult)
}

// Why a run stopped.
const (
	StopThresholdMet  = "threshold met"     // original already good enough
	StopThresholdHit  = "threshold reached" // an accepted rewrite reached the threshold
	StopNoImprovement = "no improvement"
	StopMaxIterations = "max iterations"
	StopCanceled      = "canceled"
	StopError         = "error"
)
