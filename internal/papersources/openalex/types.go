// Package openalex is the OpenAlex connector, built on the /works endpoint
// with cursor pagination.
//
// API Documentation: https://docs.openalex.org/
package openalex

// WorksPage is one page of /works results. Meta.NextCursor is empty on the
// last page.
type WorksPage struct {
	Meta    PageMeta `json:"meta"`
	Results []Work   `json:"results"`
}

type PageMeta struct {
	NextCursor string `json:"next_cursor"`
}

// Work is the subset of an OpenAlex work the connector maps to a record.
type Work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationYear int          `json:"publication_year"`
	Authorships     []Authorship `json:"authorships"`
	PrimaryLocation *Location    `json:"primary_location"`
	IDs             WorkIDs      `json:"ids"`

	// AbstractInvertedIndex maps each word to its positions in the abstract.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// WorkIDs carries the identifiers OpenAlex falls back to when the top-level
// id or doi is blank.
type WorkIDs struct {
	OpenAlex string `json:"openalex"`
	DOI      string `json:"doi"`
}

type Authorship struct {
	Author Named `json:"author"`
}

// Named is any OpenAlex entity reduced to its display name.
type Named struct {
	DisplayName string `json:"display_name"`
}

// Location is where a work is hosted. Source is nil for bare landing pages.
type Location struct {
	Source         *Named `json:"source"`
	LandingPageURL string `json:"landing_page_url"`
}

// errorResponse is the body OpenAlex sends with 4xx responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
