// Package modelsel scores model descriptors against a query analysis and
// picks the best fit from a read-only registry.
package modelsel

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"repoquery/internal/types"
)

var ErrEmptyRegistry = errors.New("modelsel: registry holds no models")

// intentCapability maps each intent to the capability tag it rewards.
var intentCapability = map[types.Intent]string{
	types.IntentAnalysis: "code_analysis",
	types.IntentDebug:    "debugging",
	types.IntentChanges:  "code_generation",
	types.IntentReview:   "code_review",
	types.IntentSearch:   "code_search",
	types.IntentGeneral:  "general_qa",
}

// Registry is loaded once at startup and never mutated at query time.
type Registry struct {
	models []types.ModelDescriptor
}

func NewRegistry(models []types.ModelDescriptor) *Registry {
	cp := make([]types.ModelDescriptor, len(models))
	copy(cp, models)
	return &Registry{models: cp}
}

// LoadRegistry reads a YAML registry file. Order in the file is preserved and
// acts as the deterministic tie-break preference.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelsel: read registry: %w", err)
	}
	var doc struct {
		Models []types.ModelDescriptor `yaml:"models"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("modelsel: parse registry %s: %w", path, err)
	}
	if len(doc.Models) == 0 {
		return nil, ErrEmptyRegistry
	}
	return NewRegistry(doc.Models), nil
}

func (r *Registry) Models() []types.ModelDescriptor {
	cp := make([]types.ModelDescriptor, len(r.models))
	copy(cp, r.models)
	return cp
}

func (r *Registry) ByName(name string) (types.ModelDescriptor, bool) {
	for _, m := range r.models {
		if m.Name == name {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}

// Select returns the highest-scoring descriptor. Scoring is additive over
// independent signals; a strict greater-than comparison makes ties fall to
// the first-listed model.
func (r *Registry) Select(qa types.QueryAnalysis) (types.ModelDescriptor, error) {
	if len(r.models) == 0 {
		return types.ModelDescriptor{}, ErrEmptyRegistry
	}
	best := r.models[0]
	bestScore := Score(best, qa)
	for _, m := range r.models[1:] {
		if s := Score(m, qa); s > bestScore {
			best, bestScore = m, s
		}
	}
	return best, nil
}

// Score rates one descriptor for one analysis.
func Score(m types.ModelDescriptor, qa types.QueryAnalysis) float64 {
	var score float64

	if tag, ok := intentCapability[qa.Intent]; ok && m.HasCapability(tag) {
		score += 10
	}

	if isCodeIntent(qa.Intent) && (m.Kind == "code" || m.Kind == "large") {
		score += 5
	}

	switch qa.Complexity {
	case types.ComplexityComplex:
		if m.Kind == "large" || m.MaxContext >= 4096 {
			score += 5
		}
	case types.ComplexitySimple:
		if m.Kind == "small" {
			score += 3
		}
	}

	if len(qa.FileRefs) > 0 && strings.Contains(m.Kind, "code") {
		score += 2
	}

	// Mild preference for larger context windows.
	score += float64(m.MaxContext) / 1000 * 0.1

	return score
}

func isCodeIntent(i types.Intent) bool {
	switch i {
	case types.IntentAnalysis, types.IntentDebug, types.IntentChanges, types.IntentReview:
		return true
	}
	return false
}
