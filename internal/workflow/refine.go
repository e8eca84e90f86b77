package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/models"
)

// DefaultRefineThreshold is the minimum verification score accepted
// without refinement.
const DefaultRefineThreshold = 0.8

type refineLoop struct {
	workers   Workers
	threshold float64
	logger    *zap.Logger
}

type refineOutcome struct {
	first   models.Verification
	final   models.Verification
	draft   models.Report
	refined bool
}

// NeedsRefinement reports whether v fails the acceptance bar.
func NeedsRefinement(v models.Verification, threshold float64) bool {
	return !v.IsValid || v.Score < threshold
}

// run verifies draft and, when it fails, asks for one corrected draft and
// verifies that. The corrected draft is kept whatever its second score.
func (l refineLoop) run(ctx context.Context, query string, evidence models.Evidence, draft models.Report, sources []models.EvidenceSource) refineOutcome {
	text := models.FormatReport(draft)
	first := l.verify(ctx, text, sources)
	out := refineOutcome{first: first, final: first, draft: draft}
	if !NeedsRefinement(first, l.threshold) {
		return out
	}

	revision := &models.Revision{PriorDraft: text, Issues: append([]string(nil), first.Issues...)}
	revised, err := l.workers.Generate(ctx, query, evidence, revision)
	if err != nil {
		l.logger.Warn("refinement failed, keeping original draft", zap.Error(err))
		return out
	}
	out.draft = revised
	out.refined = true
	out.final = l.verify(ctx, models.FormatReport(revised), sources)
	return out
}

func (l refineLoop) verify(ctx context.Context, text string, sources []models.EvidenceSource) models.Verification {
	v, err := l.workers.Verify(ctx, text, sources)
	if err != nil {
		l.logger.Warn("citation verification failed", zap.Error(err))
		return models.Verification{
			Score:   0,
			IsValid: false,
			Issues:  []string{fmt.Sprintf("Verification failed: %v", err)},
			Summary: "Verification could not be completed.",
		}
	}
	return v
}
