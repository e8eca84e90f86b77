package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/internal/checkpoint"
	"github.com/mohammad-safakhou/researchd/models"
)

// Workers are the collaborator capabilities the steps call.
type Workers interface {
	Retrieve(ctx context.Context, query, jobID string) (string, error)
	Search(ctx context.Context, query string, maxResults int) ([]models.Source, error)
	Generate(ctx context.Context, query string, evidence models.Evidence, revision *models.Revision) (models.Report, error)
	Verify(ctx context.Context, text string, sources []models.EvidenceSource) (models.Verification, error)
	Redact(ctx context.Context, text string) (string, error)
	Export(ctx context.Context, name, content string) (map[string]string, error)
}

// ReportStore persists report rows.
type ReportStore interface {
	FindReport(ctx context.Context, threadID string) (models.ReportRecord, bool, error)
	CreateReport(ctx context.Context, threadID, jobID string) (models.ReportRecord, error)
	CompleteReport(ctx context.Context, id, fileURL string, paths map[string]string, content, metadata map[string]any) error
	FailReport(ctx context.Context, id, errMsg string) error
}

// Resume actions.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// ResumeValue is the externally supplied answer to a suspension.
type ResumeValue struct {
	Action string `json:"action"`
}

// ApprovalPrompt is the payload surfaced when compliance suspends.
var ApprovalPrompt = map[string]any{"msg": "Approve redaction?"}

const (
	researchDonePrefix  = "Research complete."
	executiveSummaryLen = 500
)

// stepResult is what a node hands back to the engine.
type stepResult struct {
	update    Update
	interrupt *checkpoint.Interrupt
}

// nodes holds the step implementations.
type nodes struct {
	workers         Workers
	reports         ReportStore
	refineThreshold float64
	webMaxResults   int
	logger          *zap.Logger
}

func (n *nodes) run(ctx context.Context, step Step, threadID string, s State, resume *ResumeValue) (stepResult, error) {
	switch step {
	case StepResearch:
		return stepResult{update: n.research(ctx, s)}, nil
	case StepSynthesis:
		return stepResult{update: n.synthesis(ctx, s)}, nil
	case StepCitation:
		return stepResult{update: n.citation(ctx, s)}, nil
	case StepCompliance:
		return n.compliance(ctx, s, resume)
	case StepReport:
		u, err := n.report(ctx, threadID, s)
		return stepResult{update: u}, err
	}
	return stepResult{}, fmt.Errorf("no node for step %q", step)
}

// research runs retrieval and web search side by side. Either failure
// degrades to empty evidence instead of failing the step.
func (n *nodes) research(ctx context.Context, s State) Update {
	var (
		wg        sync.WaitGroup
		retrieved string
		web       []models.Source
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		text, err := n.workers.Retrieve(ctx, s.Query, s.JobID)
		if err != nil {
			n.logger.Warn("retrieval failed, continuing without context", zap.Error(err))
			return
		}
		retrieved = text
	}()
	go func() {
		defer wg.Done()
		results, err := n.workers.Search(ctx, s.Query, n.webMaxResults)
		if err != nil {
			n.logger.Warn("web search failed", zap.Error(err))
			web = []models.Source{{Error: err.Error()}}
			return
		}
		web = results
	}()
	wg.Wait()
	if web == nil {
		web = []models.Source{}
	}

	msg := fmt.Sprintf("%s Retrieved %d chars from RAG and found %d web sources.", researchDonePrefix, utf8.RuneCountInString(retrieved), len(web))
	return Update{
		Messages:     []Message{{Role: RoleAssistant, Content: msg}},
		ResearchData: &ResearchUpdate{Context: ptr(retrieved), WebResults: web},
	}
}

// synthesis stores the structured draft. A generation failure yields a
// report carrying only an error section.
func (n *nodes) synthesis(ctx context.Context, s State) Update {
	report, err := n.workers.Generate(ctx, s.Query, s.Evidence(), nil)
	if err != nil {
		n.logger.Warn("synthesis failed, using degraded draft", zap.Error(err))
		report = degradedReport(err)
	}
	return Update{
		Messages:  []Message{{Role: RoleAssistant, Content: models.FormatReport(report)}},
		Artifacts: &ArtifactsUpdate{DraftAnswer: &report},
	}
}

func degradedReport(err error) models.Report {
	return models.Report{
		Summary:  "Failed to generate structured report.",
		Sections: []models.Section{{Title: "Error", Content: "Error: " + err.Error()}},
	}
}

// citation verifies the draft and performs at most one refinement.
func (n *nodes) citation(ctx context.Context, s State) Update {
	sources := models.EvidenceSources(s.ResearchData.WebResults)
	draft := models.Report{}
	if s.Artifacts.DraftAnswer != nil {
		draft = *s.Artifacts.DraftAnswer
	}
	loop := refineLoop{workers: n.workers, threshold: n.refineThreshold, logger: n.logger}
	out := loop.run(ctx, s.Query, s.Evidence(), draft, sources)

	msgs := []Message{{Role: RoleAssistant, Content: fmt.Sprintf("Citation verification complete. Score: %s", formatScore(out.first.Score))}}
	upd := &ArtifactsUpdate{Verification: &out.final}
	if out.refined {
		upd.DraftAnswer = &out.draft
		upd.Refined = ptr(true)
		msgs = append(msgs, Message{Role: RoleAssistant, Content: fmt.Sprintf("Draft refined after verification. Score: %s", formatScore(out.final.Score))})
	}
	return Update{Messages: msgs, Artifacts: upd}
}

// compliance suspends until a resume value arrives. The resumed call
// re-enters here with resume set. A thread whose outcome is already
// recorded passes through without suspending.
func (n *nodes) compliance(ctx context.Context, s State, resume *ResumeValue) (stepResult, error) {
	if s.Artifacts.Compliance != "" {
		n.logger.Warn("compliance already recorded, not suspending", zap.String("outcome", s.Artifacts.Compliance))
		return stepResult{}, nil
	}
	if resume == nil {
		return stepResult{interrupt: &checkpoint.Interrupt{Step: string(StepCompliance), Payload: copyPayload(ApprovalPrompt)}}, nil
	}
	if resume.Action != ActionApprove {
		return stepResult{update: Update{
			Messages: []Message{{Role: RoleAssistant, Content: "Compliance approval denied."}},
			Artifacts: &ArtifactsUpdate{
				Compliance:  ptr(ComplianceDenied),
				FinalAnswer: ptr(BlockedAnswer),
			},
		}}, nil
	}
	redacted, err := n.workers.Redact(ctx, s.DraftText())
	if err != nil {
		return stepResult{}, fmt.Errorf("redact draft: %w", err)
	}
	return stepResult{update: Update{
		Messages: []Message{{Role: RoleAssistant, Content: "Compliance check complete. Approved."}},
		Artifacts: &ArtifactsUpdate{
			Compliance:  ptr(ComplianceApproved),
			FinalAnswer: ptr(redacted),
		},
	}}, nil
}

// report exports the final text and records the outcome on the thread's
// report row, reusing the row when the step is re-entered. An export
// failure marks the row failed and returns ErrExport alongside the update
// so the bookkeeping is still checkpointed.
func (n *nodes) report(ctx context.Context, threadID string, s State) (Update, error) {
	final := s.Artifacts.FinalAnswer
	if final == "" {
		final = s.DraftText()
	}
	if final == "" {
		final = "No content available for report."
	}

	rec, found, err := n.reports.FindReport(ctx, threadID)
	if err != nil {
		return Update{}, fmt.Errorf("find report: %w", err)
	}
	if !found {
		rec, err = n.reports.CreateReport(ctx, threadID, s.JobID)
		if err != nil {
			return Update{}, fmt.Errorf("create report: %w", err)
		}
	}
	upd := Update{Artifacts: &ArtifactsUpdate{ReportID: ptr(rec.ID)}}

	paths, exportErr := n.workers.Export(ctx, threadID, final)
	if exportErr != nil {
		if err := n.reports.FailReport(ctx, rec.ID, exportErr.Error()); err != nil {
			n.logger.Error("mark report failed", zap.String("report_id", rec.ID), zap.Error(err))
		}
		upd.Messages = []Message{{Role: RoleAssistant, Content: "Report export failed: " + exportErr.Error()}}
		return upd, fmt.Errorf("%w: %w", ErrExport, exportErr)
	}

	content := map[string]any{
		"executive_summary": truncate(final, executiveSummaryLen),
		"full_text":         final,
		"citations":         reportCitations(s),
	}
	metadata := map[string]any{
		"report_paths": paths,
		"refined":      s.Artifacts.Refined,
	}
	if v := s.Artifacts.Verification; v != nil {
		metadata["verification_score"] = v.Score
	}
	if err := n.reports.CompleteReport(ctx, rec.ID, fileURL(paths), paths, content, metadata); err != nil {
		return upd, fmt.Errorf("complete report: %w", err)
	}

	upd.Messages = []Message{{Role: RoleAssistant, Content: "Reports generated: " + describePaths(paths)}}
	upd.FinalReport = paths
	return upd, nil
}

func reportCitations(s State) any {
	if d := s.Artifacts.DraftAnswer; d != nil && len(d.Citations) > 0 {
		return d.Citations
	}
	return s.ResearchData.WebResults
}

// fileURL picks the preferred export location.
func fileURL(paths map[string]string) string {
	for _, f := range []string{"md", "txt"} {
		if p := paths[f]; p != "" {
			return p
		}
	}
	return ""
}

func describePaths(paths map[string]string) string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+paths[k])
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func formatScore(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
