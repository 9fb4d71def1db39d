package domain

import "strings"

// ArticleState is the per-article state machine position.
// NEW -> SCREENED -> EXTRACTED, with DISCARDED and FAILED as terminal alternates.
type ArticleState string

const (
	ArticleStateNew       ArticleState = "NEW"
	ArticleStateScreened  ArticleState = "SCREENED"
	ArticleStateExtracted ArticleState = "EXTRACTED"
	ArticleStateDiscarded ArticleState = "DISCARDED"
	ArticleStateFailed    ArticleState = "FAILED"
)

// OutcomeKind tags how a pipeline step ended.
type OutcomeKind string

const (
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeDiscarded OutcomeKind = "discarded"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the explicit result of one pipeline step for one article.
type Outcome struct {
	Kind       OutcomeKind
	ExternalID string
	Stage      Stage
	State      ArticleState
	Message    string
	Err        error
}

// Processed builds a successful outcome that moved the article to state.
func Processed(stage Stage, externalID string, state ArticleState) Outcome {
	return Outcome{Kind: OutcomeProcessed, Stage: stage, ExternalID: externalID, State: state}
}

// Discarded builds an outcome for input that could not be processed, such as
// content below the minimum length.
func Discarded(stage Stage, externalID, reason string) Outcome {
	return Outcome{
		Kind:       OutcomeDiscarded,
		Stage:      stage,
		ExternalID: externalID,
		State:      ArticleStateDiscarded,
		Message:    reason,
	}
}

// Failed builds an outcome for a stage that errored.
func Failed(stage Stage, externalID string, err error) Outcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		Kind:       OutcomeFailed,
		Stage:      stage,
		ExternalID: externalID,
		State:      ArticleStateFailed,
		Message:    msg,
		Err:        err,
	}
}

// Summary returns a single-line, human-readable description of the outcome.
func (o Outcome) Summary() string {
	if o.Message == "" {
		return string(o.State)
	}
	return string(o.State) + ": " + FirstLine(o.Message)
}

// FirstLine returns s up to its first newline, trimmed.
func FirstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
