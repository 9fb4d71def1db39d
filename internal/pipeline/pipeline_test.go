package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/inference"
)

const (
	screeningModel  = "small"
	extractionModel = "large"
	minContent      = 100
)

type harness struct {
	project     *domain.Project
	completer   *fakeCompleter
	records     *fakeRecords
	extractions *fakeExtractions
	logs        *fakeLogs
	projects    *fakeProjects
	fullText    *fakeFullText
	notifier    *fakeNotifier
	pipeline    *Pipeline
}

func newHarness(t *testing.T, recs ...domain.NormalizedRecord) *harness {
	t.Helper()
	project := &domain.Project{
		ID:         uuid.New(),
		Name:       "Statins review",
		Status:     domain.ProjectStatusScreening,
		Grid:       domain.Grid{"population", "intervention", "outcome"},
		PmidsCount: len(recs),
	}

	h := &harness{
		project:     project,
		completer:   newFakeCompleter(),
		records:     &fakeRecords{},
		extractions: newFakeExtractions(),
		logs:        &fakeLogs{},
		projects:    &fakeProjects{project: project},
		fullText:    &fakeFullText{texts: map[string]string{}},
		notifier:    &fakeNotifier{},
	}
	for _, r := range recs {
		h.records.records = append(h.records.records, &domain.BibliographicRecord{
			ID:               uuid.New(),
			ProjectID:        project.ID,
			NormalizedRecord: r,
		})
	}

	h.pipeline = New(Config{
		ScreeningModel:   screeningModel,
		ExtractionModel:  extractionModel,
		MinContentLength: minContent,
	}, Deps{
		Completer:   h.completer,
		Records:     h.records,
		Extractions: h.extractions,
		Logs:        h.logs,
		Projects:    h.projects,
		FullText:    h.fullText,
		Notifier:    h.notifier,
		Logger:      zerolog.Nop(),
	})
	return h
}

func article(id string) domain.NormalizedRecord {
	return domain.NormalizedRecord{
		ExternalID: id,
		Title:      "Statin therapy and cardiovascular outcomes " + id,
		Abstract:   longText("Adults receiving statins showed reduced LDL cholesterol.", minContent),
		SourceTag:  domain.SourceTypePubMed,
	}
}

func shortArticle(id string) domain.NormalizedRecord {
	return domain.NormalizedRecord{ExternalID: id, Title: "Short", SourceTag: domain.SourceTypeArXiv}
}

func (h *harness) record(id string) *domain.BibliographicRecord {
	for _, r := range h.records.records {
		if r.ExternalID == id {
			return r
		}
	}
	return nil
}

var validScreening = map[string]interface{}{
	"relevance_score": float64(8),
	"decision":        "include",
	"justification":   "Matches the population.",
}

func TestScreen_Processed(t *testing.T) {
	h := newHarness(t, article("111"))
	h.completer.on(screeningModel, object(validScreening))

	out := h.pipeline.Screen(context.Background(), h.project, h.record("111"))

	assert.Equal(t, domain.OutcomeProcessed, out.Kind)
	assert.Equal(t, domain.ArticleStateScreened, out.State)
	assert.Equal(t, "score 8, include", out.Message)
	assert.Equal(t, domain.ScreeningResult{RelevanceScore: 8, Decision: domain.DecisionInclude, Justification: "Matches the population."},
		h.extractions.screenings["111"])

	require.Equal(t, 1, h.completer.calls(screeningModel))
	prompt := h.completer.prompts[screeningModel][0]
	assert.Contains(t, prompt, "Title: Statin therapy and cardiovascular outcomes 111")
	assert.Contains(t, prompt, "Source: pubmed")
	assert.Contains(t, prompt, "Adults receiving statins")
}

func TestScreen_DiscardsShortContentWithoutInference(t *testing.T) {
	h := newHarness(t, shortArticle("222"))

	out := h.pipeline.Screen(context.Background(), h.project, h.record("222"))

	assert.Equal(t, domain.OutcomeDiscarded, out.Kind)
	assert.Equal(t, domain.ArticleStateDiscarded, out.State)
	assert.Contains(t, out.Message, "below minimum 100")
	assert.Zero(t, h.completer.calls(screeningModel))
	assert.Empty(t, h.extractions.screenings)
}

func TestScreen_InvalidReplyFails(t *testing.T) {
	tests := []struct {
		name  string
		reply map[string]interface{}
		field string
	}{
		{"score too high", map[string]interface{}{"relevance_score": float64(12), "decision": "include"}, "relevance_score"},
		{"negative score", map[string]interface{}{"relevance_score": float64(-1), "decision": "exclude"}, "relevance_score"},
		{"missing score", map[string]interface{}{"decision": "include"}, "relevance_score"},
		{"unknown decision", map[string]interface{}{"relevance_score": float64(5), "decision": "maybe"}, "decision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, article("111"))
			h.completer.on(screeningModel, object(tt.reply))

			out := h.pipeline.Screen(context.Background(), h.project, h.record("111"))

			assert.Equal(t, domain.OutcomeFailed, out.Kind)
			var vErr *domain.ValidationError
			require.True(t, errors.As(out.Err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
			assert.Empty(t, h.extractions.screenings)
		})
	}
}

func TestScreen_InferenceErrorFails(t *testing.T) {
	h := newHarness(t, article("111"))
	h.completer.on(screeningModel, func(context.Context, string) (*inference.Completion, error) {
		return nil, domain.NewInferenceError(screeningModel, domain.InferenceStageRepair, "garbage", errors.New("reply is not valid JSON"))
	})

	out := h.pipeline.Screen(context.Background(), h.project, h.record("111"))

	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrInference)
}

func TestExtract_PrefersFullText(t *testing.T) {
	h := newHarness(t, article("111"))
	h.fullText.texts["111"] = longText("Full text: 4,000 adults were randomized to atorvastatin.", minContent)
	h.completer.on(extractionModel, object(map[string]interface{}{
		"population":   "4,000 adults",
		"intervention": "atorvastatin",
		"outcome":      "reduced LDL",
	}))

	out := h.pipeline.Extract(context.Background(), h.project, h.record("111"))

	assert.Equal(t, domain.OutcomeProcessed, out.Kind)
	assert.Equal(t, domain.ArticleStateExtracted, out.State)
	assert.Equal(t, "from pdf", out.Message)

	saved := h.extractions.extractions["111"]
	assert.Equal(t, domain.ExtractionSourcePDF, saved.Source)
	assert.False(t, saved.GridMismatch())
	assert.Equal(t, "atorvastatin", saved.Data["intervention"])

	prompt := h.completer.prompts[extractionModel][0]
	assert.Contains(t, prompt, "Full text: 4,000 adults")
	assert.Less(t, strings.Index(prompt, "1. population"), strings.Index(prompt, "2. intervention"))
	assert.Less(t, strings.Index(prompt, "2. intervention"), strings.Index(prompt, "3. outcome"))
}

func TestExtract_FallsBackToAbstract(t *testing.T) {
	tests := []struct {
		name     string
		fullText *fakeFullText
	}{
		{"no full text", &fakeFullText{texts: map[string]string{}}},
		{"full text too short", &fakeFullText{texts: map[string]string{"111": "tiny"}}},
		{"full text error", &fakeFullText{err: errors.New("permission denied")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, article("111"))
			h.pipeline.fullText = tt.fullText
			h.completer.on(extractionModel, object(map[string]interface{}{
				"population": "adults", "intervention": "statins", "outcome": "LDL",
			}))

			out := h.pipeline.Extract(context.Background(), h.project, h.record("111"))

			assert.Equal(t, domain.OutcomeProcessed, out.Kind)
			assert.Equal(t, domain.ExtractionSourceAbstract, h.extractions.extractions["111"].Source)
			assert.Contains(t, h.completer.prompts[extractionModel][0], "Adults receiving statins")
		})
	}
}

func TestExtract_FlagsGridMismatch(t *testing.T) {
	h := newHarness(t, article("111"))
	h.completer.on(extractionModel, object(map[string]interface{}{
		"population": "adults",
		"outcome":    "LDL",
		"funding":    "industry",
	}))

	out := h.pipeline.Extract(context.Background(), h.project, h.record("111"))

	assert.Equal(t, domain.OutcomeProcessed, out.Kind)
	saved := h.extractions.extractions["111"]
	assert.True(t, saved.GridMismatch())
	assert.Equal(t, []string{"intervention"}, saved.MissingFields)
	assert.Equal(t, []string{"funding"}, saved.UnexpectedFields)
	assert.Equal(t, "industry", saved.Data["funding"], "object is stored verbatim")
	assert.Contains(t, out.Message, "grid mismatch")
}

func TestExtract_DiscardsShortContent(t *testing.T) {
	h := newHarness(t, shortArticle("222"))

	out := h.pipeline.Extract(context.Background(), h.project, h.record("222"))

	assert.Equal(t, domain.OutcomeDiscarded, out.Kind)
	assert.Zero(t, h.completer.calls(extractionModel))
}

func TestExtract_RequiresGrid(t *testing.T) {
	h := newHarness(t, article("111"))
	h.project.Grid = nil

	out := h.pipeline.Extract(context.Background(), h.project, h.record("111"))
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrInvalidInput)
}

func TestExtract_SaveErrorFails(t *testing.T) {
	h := newHarness(t, article("111"))
	h.extractions.err = errors.New("db down")
	h.completer.on(extractionModel, object(map[string]interface{}{"population": "a", "intervention": "b", "outcome": "c"}))

	out := h.pipeline.Extract(context.Background(), h.project, h.record("111"))
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.ErrorContains(t, out.Err, "db down")
}

func TestParseScreening(t *testing.T) {
	got, err := ParseScreening(map[string]interface{}{
		"relevance_score": "7.5",
		"decision":        " Exclude ",
		"justification":   "  Wrong population. ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ScreeningResult{RelevanceScore: 7.5, Decision: domain.DecisionExclude, Justification: "Wrong population."}, got)

	for _, boundary := range []float64{0, 10} {
		_, err := ParseScreening(map[string]interface{}{"relevance_score": boundary, "decision": "include"})
		assert.NoError(t, err, boundary)
	}

	_, err = ParseScreening(map[string]interface{}{"relevance_score": true, "decision": "include"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ParseScreening(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestValidateGrid(t *testing.T) {
	grid := domain.Grid{"b", "a", "c"}

	missing, unexpected := ValidateGrid(grid, map[string]interface{}{"a": 1, "b": nil, "c": "x"})
	assert.Empty(t, missing, "a null value still counts as present")
	assert.Empty(t, unexpected)

	missing, unexpected = ValidateGrid(grid, map[string]interface{}{"z": 1, "y": 2})
	assert.Equal(t, []string{"a", "b", "c"}, missing)
	assert.Equal(t, []string{"y", "z"}, unexpected)
}
