package scoring

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Term is one weighted keyword of the domain score.
type Term struct {
	Term   string  `yaml:"term" json:"term"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// termFile is the YAML layout of a term table:
//
//	terms:
//	  - term: randomized
//	    weight: 3
type termFile struct {
	Terms []Term `yaml:"terms"`
}

// DefaultTerms returns the built-in term table.
func DefaultTerms() []Term {
	return []Term{
		{Term: "randomized", Weight: 3},
		{Term: "randomised", Weight: 3},
		{Term: "controlled trial", Weight: 2},
		{Term: "double-blind", Weight: 1.5},
		{Term: "placebo", Weight: 1.5},
		{Term: "meta-analysis", Weight: 2},
		{Term: "systematic review", Weight: 2},
		{Term: "cohort", Weight: 1.5},
		{Term: "case-control", Weight: 1},
		{Term: "cross-sectional", Weight: 0.5},
		{Term: "hazard ratio", Weight: 1},
		{Term: "odds ratio", Weight: 1},
		{Term: "confidence interval", Weight: 1},
		{Term: "mortality", Weight: 1},
		{Term: "adverse event", Weight: 1},
		{Term: "follow-up", Weight: 0.5},
	}
}

// LoadTerms reads a term table from a YAML file.
func LoadTerms(path string) ([]Term, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read term table: %w", err)
	}
	return ParseTerms(data)
}

// ParseTerms decodes and validates a YAML term table.
func ParseTerms(data []byte) ([]Term, error) {
	var f termFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse term table: %w", err)
	}
	if len(f.Terms) == 0 {
		return nil, fmt.Errorf("term table has no terms")
	}
	if err := validateTerms(f.Terms); err != nil {
		return nil, err
	}
	return f.Terms, nil
}

func validateTerms(terms []Term) error {
	seen := make(map[string]bool, len(terms))
	for i, t := range terms {
		key := strings.ToLower(strings.TrimSpace(t.Term))
		if key == "" {
			return fmt.Errorf("term %d is blank", i)
		}
		if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			return fmt.Errorf("term %q has a non-finite weight", t.Term)
		}
		if seen[key] {
			return fmt.Errorf("term %q is listed twice", t.Term)
		}
		seen[key] = true
	}
	return nil
}
