package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromptCandidate is one version of a prompt. Candidates are values: every
// refinement step produces a new candidate instead of editing an existing one.
type PromptCandidate struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Variables   []string  `json:"variables,omitempty"`
	TargetModel string    `json:"target_model,omitempty"`
	Task        string    `json:"task,omitempty"`      // what the prompt is meant to accomplish
	ParentID    string    `json:"parent_id,omitempty"` // candidate this one was refined from
	CreatedAt   time.Time `json:"created_at"`
}

// NewPromptCandidate creates a root candidate with a fresh ID.
func NewPromptCandidate(content string) PromptCandidate {
	return PromptCandidate{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// WithContent derives a child candidate carrying the same metadata.
// The receiver is left untouched.
func (p PromptCandidate) WithContent(content string) PromptCandidate {
	child := PromptCandidate{
		ID:          uuid.NewString(),
		Content:     content,
		TargetModel: p.TargetModel,
		Task:        p.Task,
		ParentID:    p.ID,
		CreatedAt:   time.Now(),
	}
	if len(p.Variables) > 0 {
		child.Variables = append([]string(nil), p.Variables...)
	}
	return child
}

// Validate checks that the candidate can be sent to a model.
func (p PromptCandidate) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("prompt content is required")
	}
	return nil
}

// SameContent reports whether two candidates carry identical text.
func (p PromptCandidate) SameContent(other PromptCandidate) bool {
	return p.Content == other.Content
}

// Priority ranks a suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Suggestion is a single improvement proposed for a prompt.
type Suggestion struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	ImpactScore float64  `json:"impact_score"`
}

// GenericSuggestion is substituted for any suggestion the model returned
// with missing or invalid fields.
func GenericSuggestion() Suggestion {
	return Suggestion{
		Type:        "general",
		Description: "Clarify the task, expected output format and any constraints the model must respect.",
		Priority:    PriorityMedium,
		ImpactScore: 0.5,
	}
}

// Validate checks if the suggestion has valid field values
func (s Suggestion) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("suggestion type is required")
	}
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("suggestion description is required")
	}
	if !s.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %q", s.Priority)
	}
	if s.ImpactScore < 0 || s.ImpactScore > 1 {
		return fmt.Errorf("impact score must be between 0 and 1 (got %.2f)", s.ImpactScore)
	}
	return nil
}
