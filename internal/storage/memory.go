package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/promptlab/refinery/internal/types"
)

// Memory is a process-local Repository. Values are copied on the way in and
// out so callers cannot mutate stored records.
type Memory struct {
	mu          sync.RWMutex
	scores      []*types.QualityScore
	suggestions map[string][]types.Suggestion
	refinements []*types.RefinementResult
	abtests     map[string]*types.ABTestResult
	validations map[string]*types.ValidationResult
	closed      bool
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		suggestions: make(map[string][]types.Suggestion),
		abtests:     make(map[string]*types.ABTestResult),
		validations: make(map[string]*types.ValidationResult),
	}
}

func (m *Memory) check() error {
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

func (m *Memory) SaveQualityScore(ctx context.Context, score *types.QualityScore) error {
	if score.ID == "" {
		return fmt.Errorf("quality score ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	s := *score
	s.Issues = slices.Clone(score.Issues)
	s.Suggestions = slices.Clone(score.Suggestions)
	m.scores = append(m.scores, &s)
	return nil
}

// GetQualityHistory returns scores for promptID, newest first.
func (m *Memory) GetQualityHistory(ctx context.Context, promptID string, limit int) ([]*types.QualityScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []*types.QualityScore
	for i := len(m.scores) - 1; i >= 0; i-- {
		if m.scores[i].PromptID != promptID {
			continue
		}
		s := *m.scores[i]
		out = append(out, &s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SaveSuggestions(ctx context.Context, promptID string, suggestions []types.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.suggestions[promptID] = slices.Clone(suggestions)
	return nil
}

func (m *Memory) GetSuggestions(ctx context.Context, promptID string) ([]types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	batch, ok := m.suggestions[promptID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(batch), nil
}

// SaveRefinementResult inserts or replaces a run by ID.
func (m *Memory) SaveRefinementResult(ctx context.Context, result *types.RefinementResult) error {
	if result.ID == "" {
		return fmt.Errorf("refinement result ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	r := *result
	r.History = slices.Clone(result.History)
	for i, existing := range m.refinements {
		if existing.ID == r.ID {
			m.refinements[i] = &r
			return nil
		}
	}
	m.refinements = append(m.refinements, &r)
	return nil
}

func (m *Memory) GetRefinementResult(ctx context.Context, id string) (*types.RefinementResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	for _, r := range m.refinements {
		if r.ID == id {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

// ListRefinementResults returns runs newest first. An empty promptID lists
// every prompt.
func (m *Memory) ListRefinementResults(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []*types.RefinementResult
	for i := len(m.refinements) - 1; i >= 0; i-- {
		r := m.refinements[i]
		if promptID != "" && r.PromptID != promptID {
			continue
		}
		c := *r
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SaveABTestResult(ctx context.Context, result *types.ABTestResult) error {
	if result.TestID == "" {
		return fmt.Errorf("A/B test ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	r := *result
	r.TestCases = slices.Clone(result.TestCases)
	r.ResultsA = slices.Clone(result.ResultsA)
	r.ResultsB = slices.Clone(result.ResultsB)
	r.Recommendations = slices.Clone(result.Recommendations)
	m.abtests[r.TestID] = &r
	return nil
}

func (m *Memory) GetABTestResult(ctx context.Context, testID string) (*types.ABTestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	r, ok := m.abtests[testID]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (m *Memory) SaveValidationResult(ctx context.Context, result *types.ValidationResult) error {
	if result.TestID == "" {
		return fmt.Errorf("validation test ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	v := *result
	m.validations[v.TestID] = &v
	return nil
}

func (m *Memory) GetValidationResult(ctx context.Context, testID string) (*types.ValidationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	v, ok := m.validations[testID]
	if !ok {
		return nil, nil
	}
	out := *v
	return &out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
