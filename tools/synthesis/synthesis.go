// Package synthesis drafts structured reports from research evidence.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researchd/models"
	"github.com/mohammad-safakhou/researchd/provider"
)

// ErrEmptyReport is returned when the model reply carries no content.
var ErrEmptyReport = errors.New("generated report is empty")

const maxContextChars = 6000

const systemPrompt = `You are a research analyst. Write a report answering the user's question using only the supplied evidence.
Cite sources inline with their bracketed id, for example [1]. Every factual sentence needs a citation.
Respond ONLY with valid JSON in the following format:
{
  "summary": "short answer",
  "sections": [{"title": "...", "content": "..."}],
  "tables": [{"title": "...", "headers": ["..."], "rows": [["..."]]}],
  "citations": [{"id": "1", "source": "title", "url": "https://...", "quote": "..."}]
}
Do not include any other text or explanation.`

// LLM generates reports with the completion service.
type LLM struct {
	completer provider.Completer
}

func NewLLM(c provider.Completer) *LLM {
	return &LLM{completer: c}
}

func (g *LLM) Generate(ctx context.Context, query string, evidence models.Evidence, revision *models.Revision) (models.Report, error) {
	messages := []models.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt(query, evidence, revision)},
	}
	reply, err := g.completer.Complete(ctx, messages)
	if err != nil {
		return models.Report{}, fmt.Errorf("generate report: %w", err)
	}
	var report models.Report
	if err := json.Unmarshal([]byte(provider.StripFences(reply)), &report); err != nil {
		return models.Report{}, fmt.Errorf("failed to parse report: %w", err)
	}
	if strings.TrimSpace(report.Summary) == "" && len(report.Sections) == 0 {
		return models.Report{}, ErrEmptyReport
	}
	return report, nil
}

func userPrompt(query string, evidence models.Evidence, revision *models.Revision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n\n", query)
	if background := strings.TrimSpace(evidence.Context); background != "" {
		if r := []rune(background); len(r) > maxContextChars {
			background = string(r[:maxContextChars])
		}
		fmt.Fprintf(&b, "RETRIEVED CONTEXT:\n%s\n\n", background)
	}
	b.WriteString("WEB SOURCES:\n")
	for _, s := range models.EvidenceSources(evidence.WebResults) {
		fmt.Fprintf(&b, "[%s] %s (%s)\n%s\n", s.ID, s.Title, s.URL, s.Text)
	}
	if revision != nil {
		b.WriteString("\nYOUR PREVIOUS DRAFT:\n")
		b.WriteString(revision.PriorDraft)
		b.WriteString("\n\nA reviewer found these problems. Correct every one of them:\n")
		for _, issue := range revision.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}

// Extractive builds a report directly from the evidence, one section per
// web source, each citing its id. It needs no completion service.
type Extractive struct{}

func (Extractive) Generate(_ context.Context, query string, evidence models.Evidence, revision *models.Revision) (models.Report, error) {
	sources := models.EvidenceSources(evidence.WebResults)
	report := models.Report{}

	if len(sources) == 0 {
		report.Summary = fmt.Sprintf("No web sources were available for %q.", query)
	} else {
		markers := make([]string, 0, len(sources))
		for _, s := range sources {
			markers = append(markers, "["+s.ID+"]")
		}
		noun := "sources"
		if len(sources) == 1 {
			noun = "source"
		}
		report.Summary = fmt.Sprintf("Findings for %q drawn from %d web %s %s.", query, len(sources), noun, strings.Join(markers, ""))
	}

	// Uncited context is left out of revisions.
	if background := strings.TrimSpace(evidence.Context); background != "" && (revision == nil || len(sources) == 0) {
		if r := []rune(background); len(r) > 1500 {
			background = string(r[:1500]) + "…"
		}
		report.Sections = append(report.Sections, models.Section{Title: "Retrieved context", Content: background})
	}

	for _, s := range sources {
		quote := strings.TrimSpace(s.Text)
		if quote == "" {
			quote = "See " + s.Title + "."
		}
		report.Sections = append(report.Sections, models.Section{
			Title:   s.Title,
			Content: quote + " [" + s.ID + "]",
		})
		report.Citations = append(report.Citations, models.Citation{ID: s.ID, Source: s.Title, URL: s.URL, Quote: s.Text})
	}
	return report, nil
}
