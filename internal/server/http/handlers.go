package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/repository"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 500
	maxJobIDLength     = 200
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// enqueueJob handles POST /projects/{projectID}/jobs.
func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseUUID(w, chi.URLParam(r, "projectID"), "project_id")
	if !ok {
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req enqueueJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeDomainError(w, validationError(err))
		return
	}

	handle, err := s.deps.Jobs.Enqueue(r.Context(), req.toJobRequest(projectID))
	if err != nil {
		s.logDomainError(r, err, "enqueue job")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueJobResponse{
		JobID:  handle.ID,
		RunID:  handle.RunID,
		Type:   handle.Type,
		Queue:  handle.Queue,
		Status: domain.JobStatusQueued,
	})
}

// getJob handles GET /jobs/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	job, err := s.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		s.logDomainError(r, err, "get job status")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// cancelJob handles DELETE /jobs/{jobID}. A queued job is removed; a running
// one is asked to stop at its next checkpoint.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}

	outcome, err := s.deps.Jobs.Cancel(r.Context(), jobID)
	if err != nil {
		s.logDomainError(r, err, "cancel job")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelJobResponse{JobID: jobID, Outcome: outcome})
}

// listLogs handles GET /projects/{projectID}/logs.
func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseUUID(w, chi.URLParam(r, "projectID"), "project_id")
	if !ok {
		return
	}

	limit, offset := parsePaginationParams(r)
	q := r.URL.Query()
	filter := repository.LogFilter{
		ProjectID:  projectID,
		ExternalID: q.Get("external_id"),
		Limit:      limit,
		Offset:     offset,
	}

	if stage := q.Get("stage"); stage != "" {
		filter.Stage = domain.Stage(stage)
		if !filter.Stage.IsValid() {
			writeError(w, http.StatusBadRequest, "stage must be screening or extraction")
			return
		}
	}
	if status := q.Get("status"); status != "" {
		filter.Status = domain.ArticleState(status)
	}
	if since := q.Get("since"); since != "" {
		t, parseErr := time.Parse(time.RFC3339, since)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid since format: expected RFC3339")
			return
		}
		filter.Since = &t
	}

	entries, err := s.deps.Logs.List(r.Context(), filter)
	if err != nil {
		s.logDomainError(r, err, "list processing log")
		writeDomainError(w, err)
		return
	}

	resp := listLogsResponse{Entries: make([]logEntryResponse, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = domainLogToResponse(e)
	}
	if len(entries) == limit {
		resp.NextPageToken = encodeHTTPPageToken(offset + limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logDomainError(r *http.Request, err error, op string) {
	if statusForError(err) < http.StatusInternalServerError {
		return
	}
	logger := observability.LoggerFromContext(r.Context(), s.logger)
	if projectID := chi.URLParam(r, "projectID"); projectID != "" {
		logger = logger.With().Str("project_id", projectID).Logger()
	}
	logger.Error().Err(err).Str("op", op).Msg("request failed")
}

// statusForError maps domain and queue errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, slrtemporal.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, slrtemporal.ErrJobAlreadyClosed), errors.Is(err, slrtemporal.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, slrtemporal.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrServiceUnavailable),
		errors.Is(err, slrtemporal.ErrConnectionFailed),
		errors.Is(err, slrtemporal.ErrClientClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, slrtemporal.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes the error response for err. Internal error details
// are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := statusForError(err)
	switch status {
	case http.StatusBadRequest:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, status, ve.Error())
		} else {
			writeError(w, status, "invalid input")
		}
	case http.StatusNotFound:
		if errors.Is(err, slrtemporal.ErrJobNotFound) {
			writeError(w, status, "job not found")
		} else {
			writeError(w, status, "resource not found")
		}
	case http.StatusConflict:
		if errors.Is(err, slrtemporal.ErrJobAlreadyClosed) {
			writeError(w, status, "job already finished")
		} else {
			writeError(w, status, "job already exists")
		}
	case http.StatusTooManyRequests:
		writeError(w, status, "rate limited")
	case http.StatusServiceUnavailable:
		writeError(w, status, "service unavailable")
	case http.StatusGatewayTimeout:
		writeError(w, status, "upstream timeout")
	default:
		writeError(w, status, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

func parseJobID(w http.ResponseWriter, s string) (string, bool) {
	if s == "" || len(s) > maxJobIDLength {
		writeError(w, http.StatusBadRequest, "job_id is invalid")
		return "", false
	}
	return s, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
func encodeHTTPPageToken(nextOffset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
}
