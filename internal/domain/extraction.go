package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScreeningDecision is the advisory include/exclude verdict of the screening stage.
type ScreeningDecision string

const (
	DecisionInclude ScreeningDecision = "include"
	DecisionExclude ScreeningDecision = "exclude"
)

// IsValid reports whether d is include or exclude.
func (d ScreeningDecision) IsValid() bool {
	return d == DecisionInclude || d == DecisionExclude
}

// ExtractionSource tags which text the extraction stage ran over.
type ExtractionSource string

const (
	ExtractionSourcePDF      ExtractionSource = "pdf"
	ExtractionSourceAbstract ExtractionSource = "abstract"
)

// Extraction holds the AI-derived fields for one article. There is at most one
// per (ProjectID, ExternalID). Screening and extraction fields are written only
// by the pipeline; Validations is merged key-wise by human evaluators.
type Extraction struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	ExternalID string

	RelevanceScore *float64
	Decision       ScreeningDecision
	Justification  string
	ScreenedAt     *time.Time

	ExtractedData    map[string]interface{}
	ExtractionSource ExtractionSource
	GridMismatch     bool
	MissingFields    []string
	UnexpectedFields []string
	ExtractedAt      *time.Time

	Validations map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScreeningResult is what the screening stage persists.
type ScreeningResult struct {
	RelevanceScore float64
	Decision       ScreeningDecision
	Justification  string
}

// ExtractionResult is what the extraction stage persists.
type ExtractionResult struct {
	Data             map[string]interface{}
	Source           ExtractionSource
	MissingFields    []string
	UnexpectedFields []string
}

// GridMismatch reports whether the returned keys differ from the grid.
func (r ExtractionResult) GridMismatch() bool {
	return len(r.MissingFields) > 0 || len(r.UnexpectedFields) > 0
}

// ProcessingLog is one append-only audit row per (article, task attempt).
type ProcessingLog struct {
	ID         int64
	ProjectID  uuid.UUID
	ExternalID string
	Stage      Stage
	Status     ArticleState
	Message    string
	JobID      string
	CreatedAt  time.Time
}

// AnalysisResult is a project-level aggregate document, one per analysis type.
type AnalysisResult struct {
	ProjectID    uuid.UUID
	AnalysisType string
	Result       []byte
	UpdatedAt    time.Time
}
