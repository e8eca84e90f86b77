package models

import (
	"strconv"
	"strings"
)

// FormatReport flattens a structured report into plain text.
func FormatReport(r Report) string {
	out := []string{"Summary\n=======\n", r.Summary, "\n"}
	for _, sec := range r.Sections {
		out = append(out, "\n"+sec.Title+"\n"+strings.Repeat("-", len([]rune(sec.Title)))+"\n"+sec.Content+"\n")
	}
	for _, t := range r.Tables {
		out = append(out, "\nTable: "+t.Title, strings.Join(t.Headers, " | "))
		for _, row := range t.Rows {
			out = append(out, strings.Join(row, " | "))
		}
	}
	if len(r.Citations) > 0 {
		out = append(out, "\nReferences\n==========")
		for _, c := range r.Citations {
			out = append(out, "["+c.ID+"] "+c.Source+" — "+c.URL)
		}
	}
	return strings.Join(out, "\n")
}

// EvidenceSources normalizes web results for verification, assigning
// 1-based ids where the search backend supplied none. Error markers are
// skipped.
func EvidenceSources(results []Source) []EvidenceSource {
	out := make([]EvidenceSource, 0, len(results))
	for i, r := range results {
		if r.Error != "" {
			continue
		}
		id := r.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		title := r.Title
		if title == "" {
			title = "Unknown"
		}
		out = append(out, EvidenceSource{ID: id, Title: title, Text: r.Quote, URL: r.URL})
	}
	return out
}
