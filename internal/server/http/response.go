package httpserver

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
)

// enqueueJobRequest is the JSON body of POST /projects/{projectID}/jobs.
// Type-specific requirements such as a search job needing a query are
// checked by JobRequest.Validate after conversion.
type enqueueJobRequest struct {
	Type          string         `json:"type" validate:"required,oneof=search screening extraction scoring import"`
	Queue         string         `json:"queue,omitempty" validate:"omitempty,oneof=fast articles synthesis import external"`
	Search        *searchRequest `json:"search,omitempty"`
	Import        *importRequest `json:"import,omitempty"`
	ExternalIDs   []string       `json:"external_ids,omitempty" validate:"max=10000,dive,required,max=64"`
	ResetProgress bool           `json:"reset_progress,omitempty"`
}

type searchRequest struct {
	Query               string            `json:"query" validate:"max=10000"`
	ExpertQueries       map[string]string `json:"expert_queries,omitempty" validate:"dive,keys,oneof=pubmed arxiv openalex,endkeys,max=10000"`
	Sources             []string          `json:"sources,omitempty" validate:"dive,oneof=pubmed arxiv openalex"`
	MaxResultsPerSource int               `json:"max_results_per_source,omitempty" validate:"gte=0,lte=10000"`
}

type importRequest struct {
	Source      string   `json:"source" validate:"required,oneof=pubmed arxiv openalex"`
	ExternalIDs []string `json:"external_ids" validate:"required,min=1,max=10000,dive,required,max=64"`
}

// toJobRequest converts the body into a job request for projectID.
func (r enqueueJobRequest) toJobRequest(projectID uuid.UUID) slrtemporal.JobRequest {
	req := slrtemporal.JobRequest{
		Type:          domain.JobType(r.Type),
		ProjectID:     projectID,
		Queue:         domain.Queue(r.Queue),
		ExternalIDs:   r.ExternalIDs,
		ResetProgress: r.ResetProgress,
	}
	if r.Search != nil {
		spec := &slrtemporal.SearchSpec{
			Query:               r.Search.Query,
			MaxResultsPerSource: r.Search.MaxResultsPerSource,
		}
		if r.Search.ExpertQueries != nil {
			spec.ExpertQueries = make(map[domain.SourceType]string, len(r.Search.ExpertQueries))
			for k, v := range r.Search.ExpertQueries {
				spec.ExpertQueries[domain.SourceType(k)] = v
			}
		}
		for _, s := range r.Search.Sources {
			spec.Sources = append(spec.Sources, domain.SourceType(s))
		}
		req.Search = spec
	}
	if r.Import != nil {
		req.Import = &slrtemporal.ImportSpec{
			Source:      domain.SourceType(r.Import.Source),
			ExternalIDs: r.Import.ExternalIDs,
		}
	}
	return req
}

type enqueueJobResponse struct {
	JobID  string           `json:"job_id"`
	RunID  string           `json:"run_id"`
	Type   domain.JobType   `json:"type"`
	Queue  domain.Queue     `json:"queue"`
	Status domain.JobStatus `json:"status"`
}

type cancelJobResponse struct {
	JobID   string                    `json:"job_id"`
	Outcome slrtemporal.CancelOutcome `json:"outcome"`
}

type logEntryResponse struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type listLogsResponse struct {
	Entries       []logEntryResponse `json:"entries"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

func domainLogToResponse(l *domain.ProcessingLog) logEntryResponse {
	return logEntryResponse{
		ID:         l.ID,
		ExternalID: l.ExternalID,
		Stage:      string(l.Stage),
		Status:     string(l.Status),
		Message:    l.Message,
		JobID:      l.JobID,
		CreatedAt:  l.CreatedAt,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first validator failure into a domain
// ValidationError naming the JSON field path.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", err.Error())
	}
	fe := verrs[0]

	// Namespace is "enqueueJobRequest.search.query"; drop the type name.
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max", "lte":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "gte":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed %q validation", fe.Tag())
	}
	return domain.NewValidationError(field, msg)
}
