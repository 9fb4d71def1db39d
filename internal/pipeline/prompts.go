package pipeline

import (
	"fmt"
	"strings"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// BuildScreeningPrompt asks for a relevance verdict on one record.
func BuildScreeningPrompt(rec domain.NormalizedRecord) string {
	var sb strings.Builder

	sb.WriteString("You are screening articles for a systematic literature review.\n")
	sb.WriteString("Rate how relevant the article below is to the review on a scale from 0 (irrelevant) ")
	sb.WriteString("to 10 (highly relevant) and decide whether it should be included.\n\n")

	fmt.Fprintf(&sb, "Source: %s\n", rec.SourceTag)
	fmt.Fprintf(&sb, "Title: %s\n", strings.TrimSpace(rec.Title))
	abstract := strings.TrimSpace(rec.Abstract)
	if abstract == "" {
		abstract = "(no abstract available)"
	}
	fmt.Fprintf(&sb, "Abstract: %s\n\n", abstract)

	sb.WriteString("Return a JSON object with exactly these fields:\n")
	sb.WriteString(`  "relevance_score": a number from 0 to 10,` + "\n")
	sb.WriteString(`  "decision": "include" or "exclude",` + "\n")
	sb.WriteString(`  "justification": one or two sentences explaining the decision.` + "\n")
	return sb.String()
}

// BuildExtractionPrompt asks for the grid fields to be filled from text.
// Fields are listed in grid order.
func BuildExtractionPrompt(grid domain.Grid, text string) string {
	var sb strings.Builder

	sb.WriteString("You are extracting data from an article for a systematic literature review.\n")
	sb.WriteString("Fill in every field of the extraction grid using only information stated in the text. ")
	sb.WriteString("Use null for a field the text does not report.\n\n")

	sb.WriteString("Extraction grid (use these exact keys, in this order):\n")
	for i, field := range grid {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, field)
	}

	sb.WriteString("\nArticle text:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nReturn a JSON object whose keys are exactly the grid fields.\n")
	return sb.String()
}
