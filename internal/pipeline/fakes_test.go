package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/inference"
	"github.com/helixir/slr-pipeline/internal/repository"
)

type completeFunc func(ctx context.Context, prompt string) (*inference.Completion, error)

type fakeCompleter struct {
	mu      sync.Mutex
	byModel map[string]completeFunc
	prompts map[string][]string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{byModel: map[string]completeFunc{}, prompts: map[string][]string{}}
}

func (f *fakeCompleter) on(model string, fn completeFunc) *fakeCompleter {
	f.byModel[model] = fn
	return f
}

func (f *fakeCompleter) calls(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts[model])
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt, model string, mode inference.Mode) (*inference.Completion, error) {
	f.mu.Lock()
	f.prompts[model] = append(f.prompts[model], prompt)
	fn := f.byModel[model]
	f.mu.Unlock()
	if mode != inference.ModeJSON {
		panic("pipeline must request JSON mode")
	}
	return fn(ctx, prompt)
}

func object(obj map[string]interface{}) completeFunc {
	return func(context.Context, string) (*inference.Completion, error) {
		return &inference.Completion{Object: obj}, nil
	}
}

type fakeRecords struct {
	repository.RecordStore
	records []*domain.BibliographicRecord
}

func (f *fakeRecords) List(_ context.Context, filter repository.RecordFilter) ([]*domain.BibliographicRecord, error) {
	want := map[string]bool{}
	for _, id := range filter.ExternalIDs {
		want[id] = true
	}
	var out []*domain.BibliographicRecord
	for _, r := range f.records {
		if r.ProjectID != filter.ProjectID {
			continue
		}
		if len(want) > 0 && !want[r.ExternalID] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type fakeExtractions struct {
	repository.ExtractionRepository
	mu          sync.Mutex
	screenings  map[string]domain.ScreeningResult
	extractions map[string]domain.ExtractionResult
	err         error
}

func newFakeExtractions() *fakeExtractions {
	return &fakeExtractions{
		screenings:  map[string]domain.ScreeningResult{},
		extractions: map[string]domain.ExtractionResult{},
	}
}

func (f *fakeExtractions) SaveScreening(_ context.Context, _ uuid.UUID, externalID string, result domain.ScreeningResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.screenings[externalID] = result
	return nil
}

func (f *fakeExtractions) SaveExtraction(_ context.Context, _ uuid.UUID, externalID string, result domain.ExtractionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.extractions[externalID] = result
	return nil
}

type fakeLogs struct {
	repository.ProcessingLogRepository
	mu      sync.Mutex
	entries []domain.ProcessingLog
}

func (f *fakeLogs) Append(_ context.Context, entry *domain.ProcessingLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLogs) statuses() map[string]domain.ArticleState {
	out := map[string]domain.ArticleState{}
	for _, e := range f.entries {
		out[e.ExternalID] = e.Status
	}
	return out
}

type fakeProjects struct {
	repository.ProjectRepository
	project    *domain.Project
	processed  int
	increments int
	resets     int
}

func (f *fakeProjects) Get(_ context.Context, id uuid.UUID) (*domain.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, domain.NewNotFoundError("project", id.String())
	}
	p := *f.project
	return &p, nil
}

func (f *fakeProjects) IncrementProcessed(context.Context, uuid.UUID) (int, error) {
	f.processed++
	f.increments++
	return f.processed, nil
}

func (f *fakeProjects) ResetProcessed(context.Context, uuid.UUID) error {
	f.resets++
	f.processed = 0
	return nil
}

type fakeFullText struct {
	texts map[string]string
	err   error
}

func (f *fakeFullText) ForArticle(_ context.Context, _ uuid.UUID, externalID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	t, ok := f.texts[externalID]
	return t, ok, nil
}

type articleEvent struct {
	outcome   domain.Outcome
	processed int
	total     int
}

type fakeNotifier struct {
	articles []articleEvent
	batches  [][3]int
}

func (f *fakeNotifier) ArticleProcessed(_ context.Context, _ uuid.UUID, outcome domain.Outcome, processed, total int) {
	f.articles = append(f.articles, articleEvent{outcome: outcome, processed: processed, total: total})
}

func (f *fakeNotifier) BatchCompleted(_ context.Context, _ uuid.UUID, _ domain.Stage, processed, discarded, failed int) {
	f.batches = append(f.batches, [3]int{processed, discarded, failed})
}

// longText returns a sentence repeated until it exceeds n characters.
func longText(sentence string, n int) string {
	var sb strings.Builder
	for sb.Len() <= n {
		sb.WriteString(sentence)
		sb.WriteByte(' ')
	}
	return strings.TrimSpace(sb.String())
}
