package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/temporal"
)

type fakeJobs struct {
	enqueued []temporal.JobRequest
	jobs     map[string]*domain.Job
	outcome  temporal.CancelOutcome
	err      error
	released bool
}

func (f *fakeJobs) Enqueue(_ context.Context, req temporal.JobRequest) (temporal.JobHandle, error) {
	if f.err != nil {
		return temporal.JobHandle{}, f.err
	}
	f.enqueued = append(f.enqueued, req)
	return temporal.JobHandle{ID: "job-1", RunID: "run-1", Type: req.Type, Queue: req.ResolvedQueue()}, nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, temporal.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Cancel(_ context.Context, _ string) (temporal.CancelOutcome, error) {
	return f.outcome, f.err
}

func runCLI(t *testing.T, fake *fakeJobs, args ...string) (string, error) {
	t.Helper()
	connect := func(context.Context) (jobService, func(), error) {
		return fake, func() { fake.released = true }, nil
	}
	cmd := newRootCommand(connect)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueSearch(t *testing.T) {
	fake := &fakeJobs{}
	projectID := uuid.New()

	out, err := runCLI(t, fake, "enqueue", "search", projectID.String(),
		"--query", "sepsis biomarkers", "--sources", "PubMed,arxiv", "--max-results", "25")
	if err != nil {
		t.Fatalf("enqueue search: %v", err)
	}
	if !strings.Contains(out, "Enqueued search job job-1 on queue fast") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !fake.released {
		t.Fatal("expected connection to be released")
	}

	if len(fake.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(fake.enqueued))
	}
	req := fake.enqueued[0]
	if req.ProjectID != projectID || req.Type != domain.JobTypeSearch {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Search == nil || req.Search.Query != "sepsis biomarkers" || req.Search.MaxResultsPerSource != 25 {
		t.Fatalf("unexpected search spec: %+v", req.Search)
	}
	want := []domain.SourceType{domain.SourceTypePubMed, domain.SourceTypeArXiv}
	if len(req.Search.Sources) != 2 || req.Search.Sources[0] != want[0] || req.Search.Sources[1] != want[1] {
		t.Fatalf("unexpected sources: %v", req.Search.Sources)
	}
}

func TestEnqueueSearch_ExpertQueries(t *testing.T) {
	fake := &fakeJobs{}

	_, err := runCLI(t, fake, "enqueue", "search", uuid.NewString(), "--expert", "pubmed=sepsis[MeSH]")
	if err != nil {
		t.Fatalf("enqueue search: %v", err)
	}
	got := fake.enqueued[0].Search.ExpertQueries[domain.SourceTypePubMed]
	if got != "sepsis[MeSH]" {
		t.Fatalf("expected expert query, got %q", got)
	}
}

func TestEnqueueScreen_JSONOutput(t *testing.T) {
	fake := &fakeJobs{}

	out, err := runCLI(t, fake, "--json", "enqueue", "screen", uuid.NewString(),
		"--ids", "111,222", "--reset-progress", "--queue", "external")
	if err != nil {
		t.Fatalf("enqueue screen: %v", err)
	}

	var handle temporal.JobHandle
	if err := json.Unmarshal([]byte(out), &handle); err != nil {
		t.Fatalf("decode output: %v (%q)", err, out)
	}
	if handle.Queue != domain.QueueExternal || handle.Type != domain.JobTypeScreening {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	req := fake.enqueued[0]
	if len(req.ExternalIDs) != 2 || !req.ResetProgress {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestEnqueue_Rejected(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad project id", []string{"enqueue", "score", "not-a-uuid"}, "invalid project id"},
		{"search without query", []string{"enqueue", "search", uuid.NewString()}, "search.query"},
		{"unknown queue", []string{"enqueue", "score", uuid.NewString(), "--queue", "slow"}, "unknown queue"},
		{"import without source", []string{"enqueue", "import", uuid.NewString(), "2401.00001"}, "source"},
		{"import unknown source", []string{"enqueue", "import", uuid.NewString(), "x", "--source", "scopus"}, "unknown source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeJobs{}
			_, err := runCLI(t, fake, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if len(fake.enqueued) != 0 {
				t.Fatal("nothing should be enqueued")
			}
		})
	}
}

func TestEnqueue_BackendError(t *testing.T) {
	fake := &fakeJobs{err: errors.New("temporal unavailable")}

	_, err := runCLI(t, fake, "enqueue", "score", uuid.NewString())
	if err == nil || !strings.Contains(err.Error(), "temporal unavailable") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	fake := &fakeJobs{jobs: map[string]*domain.Job{
		"job-1": {ID: "job-1", Type: domain.JobTypeScoring, Queue: domain.QueueSynthesis, Status: domain.JobStatusFinished},
		"job-2": {ID: "job-2", Type: domain.JobTypeSearch, Queue: domain.QueueFast, Status: domain.JobStatusFailed, Error: "all sources failed"},
	}}

	out, err := runCLI(t, fake, "status", "job-1", "job-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"job-1", "finished", "job-2", "all sources failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	_, err = runCLI(t, fake, "status", "missing")
	if !errors.Is(err, temporal.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	fake := &fakeJobs{outcome: temporal.CancelRequested}

	out, err := runCLI(t, fake, "--json", "cancel", "job-9")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got["job_id"] != "job-9" || got["outcome"] != "requested" {
		t.Fatalf("unexpected output: %v", got)
	}
}
