// Package scoring computes the project-level analysis document from the
// screening and extraction results.
//
// The output is a pure function of the stored extractions: articles are
// ordered by external id, maps are serialized with sorted keys and no
// wall-clock value is included, so two runs over the same data produce
// byte-identical documents.
package scoring

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// DecisionUnscreened counts articles that have no screening decision yet.
const DecisionUnscreened = "unscreened"

// ArticleScore is the per-article part of a Summary.
type ArticleScore struct {
	ExternalID     string   `json:"external_id"`
	Decision       string   `json:"decision"`
	RelevanceScore *float64 `json:"relevance_score"`
	DomainScore    float64  `json:"domain_score"`
	MatchedTerms   []string `json:"matched_terms"`
	Validated      bool     `json:"validated"`
}

// Summary is the analysis document stored per project.
type Summary struct {
	TotalArticles       int            `json:"total_articles"`
	DecisionCounts      map[string]int `json:"decision_counts"`
	ScoredArticles      int            `json:"scored_articles"`
	MeanRelevance       *float64       `json:"mean_relevance"`
	MedianRelevance     *float64       `json:"median_relevance"`
	ValidationThreshold float64        `json:"validation_threshold"`
	AboveThreshold      int            `json:"above_threshold"`
	ExtractedArticles   int            `json:"extracted_articles"`
	TotalDomainScore    float64        `json:"total_domain_score"`
	Articles            []ArticleScore `json:"articles"`
}

// Engine scores extractions against a weighted term table.
type Engine struct {
	terms     []Term
	threshold float64
}

// NewEngine creates an Engine. A nil terms slice uses DefaultTerms.
func NewEngine(terms []Term, threshold float64) (*Engine, error) {
	if terms == nil {
		terms = DefaultTerms()
	}
	if err := validateTerms(terms); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 10 {
		return nil, fmt.Errorf("validation threshold %v outside 0-10", threshold)
	}

	normalized := make([]Term, len(terms))
	for i, t := range terms {
		normalized[i] = Term{Term: strings.ToLower(strings.TrimSpace(t.Term)), Weight: t.Weight}
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Term < normalized[j].Term })

	return &Engine{terms: normalized, threshold: threshold}, nil
}

// Terms returns the normalized term table.
func (e *Engine) Terms() []Term {
	out := make([]Term, len(e.terms))
	copy(out, e.terms)
	return out
}

// Compute builds the Summary for a project's extractions. The input order
// does not matter.
func (e *Engine) Compute(extractions []*domain.Extraction) Summary {
	s := Summary{
		DecisionCounts:      map[string]int{string(domain.DecisionInclude): 0, string(domain.DecisionExclude): 0, DecisionUnscreened: 0},
		ValidationThreshold: e.threshold,
		Articles:            make([]ArticleScore, 0, len(extractions)),
	}

	var relevance []float64
	for _, ex := range extractions {
		if ex == nil {
			continue
		}
		s.TotalArticles++

		decision := string(ex.Decision)
		if decision == "" {
			decision = DecisionUnscreened
		}
		s.DecisionCounts[decision]++

		if ex.RelevanceScore != nil {
			relevance = append(relevance, *ex.RelevanceScore)
			if *ex.RelevanceScore >= e.threshold {
				s.AboveThreshold++
			}
		}

		score, matched := e.domainScore(ex.ExtractedData)
		if ex.ExtractedData != nil {
			s.ExtractedArticles++
		}

		s.Articles = append(s.Articles, ArticleScore{
			ExternalID:     ex.ExternalID,
			Decision:       decision,
			RelevanceScore: ex.RelevanceScore,
			DomainScore:    score,
			MatchedTerms:   matched,
			Validated:      len(ex.Validations) > 0,
		})
	}

	sort.Slice(s.Articles, func(i, j int) bool { return s.Articles[i].ExternalID < s.Articles[j].ExternalID })
	for _, a := range s.Articles {
		s.TotalDomainScore += a.DomainScore
	}

	s.ScoredArticles = len(relevance)
	if len(relevance) > 0 {
		sort.Float64s(relevance)
		mean, median := meanMedian(relevance)
		s.MeanRelevance = &mean
		s.MedianRelevance = &median
	}
	return s
}

// Marshal serializes s. encoding/json writes map keys in sorted order.
func (e *Engine) Marshal(s Summary) ([]byte, error) {
	return json.Marshal(s)
}

// DomainText is the text the domain score is computed over: the values of
// data concatenated in sorted-key order.
func DomainText(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := valueText(data[k]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func (e *Engine) domainScore(data map[string]interface{}) (float64, []string) {
	text := strings.ToLower(DomainText(data))
	matched := []string{}
	if text == "" {
		return 0, matched
	}

	var score float64
	for _, t := range e.terms {
		if strings.Contains(text, t.Term) {
			score += t.Weight
			matched = append(matched, t.Term)
		}
	}
	return score, matched
}

func valueText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// meanMedian expects sorted input.
func meanMedian(sorted []float64) (float64, float64) {
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return mean, sorted[mid]
	}
	return mean, (sorted[mid-1] + sorted[mid]) / 2
}
