package types

import (
	"fmt"
	"time"
)

// RefinementStatus is the state of a refinement run.
//
// State machine:
//
//	pending -> analyzing -> refining -> validating -> completed
//	                  \_________\____________\______-> failed
type RefinementStatus string

const (
	RefinementPending    RefinementStatus = "pending"
	RefinementAnalyzing  RefinementStatus = "analyzing"
	RefinementRefining   RefinementStatus = "refining"
	RefinementValidating RefinementStatus = "validating"
	RefinementCompleted  RefinementStatus = "completed"
	RefinementFailed     RefinementStatus = "failed"
)

// IsValid checks if the status value is valid
func (s RefinementStatus) IsValid() bool {
	switch s {
	case RefinementPending, RefinementAnalyzing, RefinementRefining,
		RefinementValidating, RefinementCompleted, RefinementFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the run has finished.
func (s RefinementStatus) IsTerminal() bool {
	return s == RefinementCompleted || s == RefinementFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s RefinementStatus) CanTransitionTo(next RefinementStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RefinementFailed {
		return true
	}
	switch s {
	case RefinementPending:
		return next == RefinementAnalyzing
	case RefinementAnalyzing:
		return next == RefinementRefining || next == RefinementValidating || next == RefinementCompleted
	case RefinementRefining:
		return next == RefinementAnalyzing || next == RefinementValidating || next == RefinementCompleted
	case RefinementValidating:
		return next == RefinementCompleted
	}
	return false
}

// RefinementResult is the outcome of one refinement run. It is immutable
// once Status is terminal.
type RefinementResult struct {
	ID                 string            `json:"id"`
	PromptID           string            `json:"prompt_id"`
	TaskDescription    string            `json:"task_description,omitempty"`
	OriginalPrompt     PromptCandidate   `json:"original_prompt"`
	RefinedPrompt      PromptCandidate   `json:"refined_prompt"`
	InitialQuality     float64           `json:"initial_quality"`
	FinalQuality       float64           `json:"final_quality"`
	Iterations         int               `json:"iterations"`
	QualityImprovement float64           `json:"quality_improvement"`
	Status             RefinementStatus  `json:"status"`
	ProcessingTime     time.Duration     `json:"processing_time"`
	ABTestTriggered    bool              `json:"ab_test_triggered"`
	Validation         *ValidationResult `json:"validation,omitempty"`
	ValidationError    string            `json:"validation_error,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	History            []QualityScore    `json:"history,omitempty"` // every score produced during the run, in order
	CreatedAt          time.Time         `json:"created_at"`
}

// ProcessingTimeSeconds returns ProcessingTime in seconds.
func (r *RefinementResult) ProcessingTimeSeconds() float64 {
	return r.ProcessingTime.Seconds()
}

// Validate checks the result's internal consistency.
func (r *RefinementResult) Validate() error {
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if r.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative (got %d)", r.Iterations)
	}
	if r.Status == RefinementFailed && r.ErrorMessage == "" {
		return fmt.Errorf("failed result requires an error message")
	}
	if r.Status == RefinementFailed && !r.RefinedPrompt.SameContent(r.OriginalPrompt) {
		return fmt.Errorf("failed result must return the original prompt")
	}
	return nil
}
