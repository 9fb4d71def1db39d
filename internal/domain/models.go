// Package domain provides the domain models and error taxonomy of the review pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the lifecycle of a review project.
// These values must match the database enum project_status.
type ProjectStatus string

const (
	ProjectStatusPending         ProjectStatus = "pending"
	ProjectStatusSearching       ProjectStatus = "searching"
	ProjectStatusSearchCompleted ProjectStatus = "search_completed"
	ProjectStatusScreening       ProjectStatus = "screening"
	ProjectStatusCompleted       ProjectStatus = "completed"
	ProjectStatusFailed          ProjectStatus = "failed"
)

// IsValid reports whether s is a known project status.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusPending, ProjectStatusSearching, ProjectStatusSearchCompleted,
		ProjectStatusScreening, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	default:
		return false
	}
}

// SourceType identifies the external bibliographic database a record came from.
type SourceType string

const (
	SourceTypePubMed   SourceType = "pubmed"
	SourceTypeArXiv    SourceType = "arxiv"
	SourceTypeOpenAlex SourceType = "openalex"
)

// IsValid reports whether s is a supported source.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypePubMed, SourceTypeArXiv, SourceTypeOpenAlex:
		return true
	default:
		return false
	}
}

// Stage is one of the per-article pipeline stages.
type Stage string

const (
	StageScreening  Stage = "screening"
	StageExtraction Stage = "extraction"
)

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	return s == StageScreening || s == StageExtraction
}

// Grid is the project-configurable ordered list of fields the extraction stage
// must populate.
type Grid []string

// Contains reports whether field is part of the grid.
func (g Grid) Contains(field string) bool {
	for _, f := range g {
		if f == field {
			return true
		}
	}
	return false
}

// Project is a systematic review. It is created by an external caller; the
// pipeline only moves its status and counters.
type Project struct {
	ID             uuid.UUID
	Name           string
	Status         ProjectStatus
	Grid           Grid
	PmidsCount     int
	ProcessedCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CompletionPercent returns processed/total as a percentage in [0, 100].
func (p *Project) CompletionPercent() float64 {
	if p.PmidsCount <= 0 {
		return 0
	}
	pct := float64(p.ProcessedCount) / float64(p.PmidsCount) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
