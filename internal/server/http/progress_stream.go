package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// sseMaxDuration is the maximum time an SSE stream may remain open.
const sseMaxDuration = 4 * time.Hour

// progressSnapshot is the first event of a stream: where the project stands
// before any live notification arrives.
type progressSnapshot struct {
	ProjectID         string    `json:"project_id"`
	Status            string    `json:"status"`
	RecordCount       int       `json:"pmids_count"`
	ProcessedCount    int       `json:"processed_count"`
	CompletionPercent float64   `json:"completion_percent"`
	Timestamp         time.Time `json:"timestamp"`
}

// streamProgress handles GET /projects/{projectID}/progress (SSE). It sends
// a snapshot of the project, then relays every notification for it until the
// client disconnects.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseUUID(w, chi.URLParam(r, "projectID"), "project_id")
	if !ok {
		return
	}
	if s.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming is disabled")
		return
	}

	project, err := s.deps.Projects.Get(r.Context(), projectID)
	if err != nil {
		s.logDomainError(r, err, "load project")
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendSSEEvent(w, flusher, "snapshot", progressSnapshot{
		ProjectID:         project.ID.String(),
		Status:            string(project.Status),
		RecordCount:       project.PmidsCount,
		ProcessedCount:    project.ProcessedCount,
		CompletionPercent: project.CompletionPercent(),
		Timestamp:         time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(r.Context(), sseMaxDuration)
	defer cancel()

	err = s.deps.Progress.Stream(ctx, projectID.String(), func(n domain.Notification) error {
		sendSSEEvent(w, flusher, string(n.Type), n)
		return nil
	})

	switch {
	case r.Context().Err() != nil:
		// Client went away.
	case errors.Is(err, context.DeadlineExceeded):
		sendSSEEvent(w, flusher, "timeout", map[string]string{"message": "stream max duration exceeded"})
	case err != nil:
		s.logger.Error().Err(err).Str("project_id", projectID.String()).Msg("progress stream failed")
		sendSSEEvent(w, flusher, "error", map[string]string{"message": "progress stream interrupted"})
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}
