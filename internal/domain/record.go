package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizedRecord is the single shape every source connector produces.
type NormalizedRecord struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Authors         string     `json:"authors,omitempty"`
	PublicationYear int        `json:"publication_year,omitempty"`
	Journal         string     `json:"journal,omitempty"`
	DOI             string     `json:"doi,omitempty"`
	URL             string     `json:"url,omitempty"`
	SourceTag       SourceType `json:"source_tag"`
}

// Validate checks the fields a record needs before it can be stored.
// Connectors skip records that fail it.
func (r NormalizedRecord) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return NewValidationError("external_id", "is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return NewValidationError("title", "is required")
	}
	return nil
}

// ContentText joins title and abstract, the input of the screening stage.
func (r NormalizedRecord) ContentText() string {
	return strings.TrimSpace(strings.TrimSpace(r.Title) + "\n\n" + strings.TrimSpace(r.Abstract))
}

// BibliographicRecord is a stored NormalizedRecord. It is unique on
// (ProjectID, ExternalID) and never updated after insertion.
type BibliographicRecord struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	NormalizedRecord
	CreatedAt time.Time
}
