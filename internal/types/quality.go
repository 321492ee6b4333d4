package types

import (
	"fmt"
	"math"
	"time"
)

// QualityScore is an LLM-judged assessment of a prompt. All six scores lie
// in [0,1]. How Overall weighs the dimensions is up to the judge, so callers
// must only rely on its range.
type QualityScore struct {
	ID            string    `json:"id"`
	PromptID      string    `json:"prompt_id"`
	Overall       float64   `json:"overall"`
	Clarity       float64   `json:"clarity"`
	Specificity   float64   `json:"specificity"`
	ContextUsage  float64   `json:"context_usage"`
	TaskAlignment float64   `json:"task_alignment"`
	Safety        float64   `json:"safety"`
	Issues        []string  `json:"issues"`
	Suggestions   []string  `json:"suggestions"`
	Fallback      bool      `json:"fallback"` // judge output was unusable, conservative defaults applied
	CreatedAt     time.Time `json:"created_at"`
}

// Fallback issue markers.
const (
	IssueParsingError   = "Parsing error - manual review needed"
	IssueAnalysisFailed = "Analysis failed"
)

// FallbackQualityScore returns the conservative score used when the judge
// response is missing or malformed.
func FallbackQualityScore(promptID, issue string) QualityScore {
	return QualityScore{
		PromptID:      promptID,
		Overall:       0.5,
		Clarity:       0.6,
		Specificity:   0.5,
		ContextUsage:  0.4,
		TaskAlignment: 0.7,
		Safety:        0.8,
		Issues:        []string{issue},
		Suggestions:   []string{},
		Fallback:      true,
		CreatedAt:     time.Now(),
	}
}

// Clamp returns a copy with every score forced into [0,1]. NaN becomes 0.
func (q QualityScore) Clamp() QualityScore {
	q.Overall = Clamp01(q.Overall)
	q.Clarity = Clamp01(q.Clarity)
	q.Specificity = Clamp01(q.Specificity)
	q.ContextUsage = Clamp01(q.ContextUsage)
	q.TaskAlignment = Clamp01(q.TaskAlignment)
	q.Safety = Clamp01(q.Safety)
	return q
}

// Validate checks the [0,1] bounds.
func (q QualityScore) Validate() error {
	fields := map[string]float64{
		"overall":        q.Overall,
		"clarity":        q.Clarity,
		"specificity":    q.Specificity,
		"context_usage":  q.ContextUsage,
		"task_alignment": q.TaskAlignment,
		"safety":         q.Safety,
	}
	for name, v := range fields {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1 (got %v)", name, v)
		}
	}
	return nil
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
