// Package citation scores how well a draft's claims are backed by sources.
package citation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/researchd/models"
	"github.com/mohammad-safakhou/researchd/provider"
)

// ErrVerificationParse marks a verifier reply that could not be decoded.
// It is folded into a zero-score Verification rather than returned.
var ErrVerificationParse = errors.New("failed to parse verification result")

const verifyPrompt = `You are a meticulous fact checker. Check every claim in the draft against the numbered sources.
A claim is supported only if it cites a source id in brackets and that source backs it.
Respond ONLY with valid JSON in the following format:
{"score": 0.0, "is_valid": false, "supported_claims": 0, "total_claims": 0, "issues": ["..."], "summary": "..."}
score is supported_claims / total_claims. Do not include any other text.`

// LLM verifies with the completion service.
type LLM struct {
	completer provider.Completer
}

func NewLLM(c provider.Completer) *LLM {
	return &LLM{completer: c}
}

func (v *LLM) Verify(ctx context.Context, text string, sources []models.EvidenceSource) (models.Verification, error) {
	var b strings.Builder
	b.WriteString("SOURCES:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "[%s] %s (%s)\n%s\n", s.ID, s.Title, s.URL, s.Text)
	}
	b.WriteString("\nDRAFT:\n")
	b.WriteString(text)

	reply, err := v.completer.Complete(ctx, []models.ChatMessage{
		{Role: "system", Content: verifyPrompt},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		return models.Verification{}, fmt.Errorf("verify citations: %w", err)
	}
	result, err := ParseVerification(reply)
	if err != nil {
		return ParseFailure(err), nil
	}
	return result, nil
}

// ParseVerification decodes a verifier reply, tolerating code fences.
func ParseVerification(reply string) (models.Verification, error) {
	var out models.Verification
	if err := json.Unmarshal([]byte(provider.StripFences(reply)), &out); err != nil {
		return models.Verification{}, fmt.Errorf("%w: %w", ErrVerificationParse, err)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 1 {
		out.Score = 1
	}
	if out.Issues == nil {
		out.Issues = []string{}
	}
	return out, nil
}

// ParseFailure is the verdict recorded when a reply cannot be decoded.
func ParseFailure(err error) models.Verification {
	cause := strings.TrimPrefix(err.Error(), ErrVerificationParse.Error()+": ")
	return models.Verification{
		Score:   0,
		IsValid: false,
		Issues:  []string{"Failed to parse verification result: " + cause},
		Summary: "Verification result could not be parsed.",
	}
}

// Source ids are opaque, so any bracketed token without whitespace is a marker.
var markerRe = regexp.MustCompile(`\[([^\]\s]+)\]`)

// markers returns the source ids cited in claim. Markdown link text is skipped.
func markers(claim string) []string {
	var ids []string
	for _, m := range markerRe.FindAllStringSubmatchIndex(claim, -1) {
		if m[1] < len(claim) && claim[m[1]] == '(' {
			continue
		}
		ids = append(ids, claim[m[2]:m[3]])
	}
	return ids
}

const referencesHeading = "\nReferences\n=========="

// Heuristic treats each body line of a formatted report as a claim and
// counts it supported when it carries [id] markers that all name known
// sources.
type Heuristic struct {
	// MinScore is the score at or above which a draft without unknown
	// markers is valid.
	MinScore float64
}

func (h Heuristic) Verify(_ context.Context, text string, sources []models.EvidenceSource) (models.Verification, error) {
	known := make(map[string]bool, len(sources))
	for _, s := range sources {
		known[s.ID] = true
	}
	minScore := h.MinScore
	if minScore <= 0 {
		minScore = 0.5
	}

	var (
		total, supported int
		unknown          = map[string]bool{}
		issues           = []string{}
	)
	for _, claim := range claims(text) {
		total++
		ids := markers(claim)
		if len(ids) == 0 {
			issues = append(issues, "Uncited claim: "+abbreviate(claim, 80))
			continue
		}
		ok := true
		for _, id := range ids {
			if !known[id] {
				ok = false
				if !unknown[id] {
					unknown[id] = true
					issues = append(issues, fmt.Sprintf("Citation [%s] does not match any source", id))
				}
			}
		}
		if ok {
			supported++
		}
	}

	if total == 0 {
		return models.Verification{
			Issues:  []string{"No verifiable claims found."},
			Summary: "The draft contains no claims to verify.",
		}, nil
	}
	score := float64(supported) / float64(total)
	return models.Verification{
		Score:           score,
		IsValid:         len(unknown) == 0 && score >= minScore,
		SupportedClaims: supported,
		TotalClaims:     total,
		Issues:          issues,
		Summary:         fmt.Sprintf("%d of %d claims cite a known source.", supported, total),
	}, nil
}

// claims returns the body lines of a formatted report, skipping headings,
// their underlines, tables and the references list.
func claims(text string) []string {
	if i := strings.Index(text, referencesHeading); i >= 0 {
		text = text[:i]
	}
	lines := strings.Split(text, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || isRule(line) {
			continue
		}
		if i+1 < len(lines) && isRule(strings.TrimSpace(lines[i+1])) {
			i++
			continue
		}
		if strings.HasPrefix(line, "Table: ") || strings.Contains(line, " | ") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isRule(line string) bool {
	if line == "" {
		return false
	}
	return strings.Trim(line, "=") == "" || strings.Trim(line, "-") == ""
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
