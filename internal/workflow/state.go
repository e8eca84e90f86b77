package workflow

import (
	"maps"

	"github.com/mohammad-safakhou/researchd/models"
)

// Step is a routing token of the supervisor.
type Step string

const (
	StepStart      Step = "start"
	StepResearch   Step = "research"
	StepSynthesis  Step = "synthesis"
	StepCitation   Step = "citation"
	StepCompliance Step = "compliance"
	StepReport     Step = "report"
	StepEnd        Step = "end"
)

// Valid reports whether s is one of the known routing tokens.
func (s Step) Valid() bool {
	switch s {
	case StepStart, StepResearch, StepSynthesis, StepCitation, StepCompliance, StepReport, StepEnd:
		return true
	}
	return false
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResearchData holds the evidence gathered by the research step.
type ResearchData struct {
	Context    string          `json:"context"`
	WebResults []models.Source `json:"web_results"`
}

// Compliance outcomes.
const (
	ComplianceApproved = "approved"
	ComplianceDenied   = "denied"
)

// BlockedAnswer is the final answer of a thread whose compliance review was denied.
const BlockedAnswer = "[BLOCKED BY COMPLIANCE]"

// Artifacts accumulates step outputs.
type Artifacts struct {
	DraftAnswer  *models.Report       `json:"draft_answer,omitempty"`
	Verification *models.Verification `json:"verification_result,omitempty"`
	Refined      bool                 `json:"refined,omitempty"`
	Compliance   string               `json:"compliance,omitempty"`
	FinalAnswer  string               `json:"final_answer,omitempty"`
	ReportID     string               `json:"report_id,omitempty"`
}

// State is the record threaded through every step. Each checkpoint holds
// one immutable copy of it.
type State struct {
	Query        string            `json:"query"`
	Messages     []Message         `json:"messages"`
	NextStep     Step              `json:"next_step"`
	JobID        string            `json:"job_id,omitempty"`
	ResearchData ResearchData      `json:"research_data"`
	Artifacts    Artifacts         `json:"artifacts"`
	FinalReport  map[string]string `json:"final_report,omitempty"`
}

// NewState builds the initial state of a thread.
func NewState(query, jobID string) State {
	return State{
		Query:    query,
		Messages: []Message{{Role: RoleUser, Content: query}},
		NextStep: StepStart,
		JobID:    jobID,
	}
}

// Update is the partial result of a step. Nil and zero fields leave the
// state untouched.
type Update struct {
	Messages     []Message
	NextStep     Step
	ResearchData *ResearchUpdate
	Artifacts    *ArtifactsUpdate
	FinalReport  map[string]string
}

type ResearchUpdate struct {
	Context    *string
	WebResults []models.Source
}

type ArtifactsUpdate struct {
	DraftAnswer  *models.Report
	Verification *models.Verification
	Refined      *bool
	Compliance   *string
	FinalAnswer  *string
	ReportID     *string
}

// Merge applies u to s and returns the result without modifying s.
// Lists append, maps shallow-merge, scalars overwrite.
func Merge(s State, u Update) State {
	out := s
	out.Messages = make([]Message, 0, len(s.Messages)+len(u.Messages))
	out.Messages = append(out.Messages, s.Messages...)
	out.Messages = append(out.Messages, u.Messages...)

	if u.NextStep != "" {
		out.NextStep = u.NextStep
	}

	if r := u.ResearchData; r != nil {
		if r.Context != nil {
			out.ResearchData.Context = *r.Context
		}
		if r.WebResults != nil {
			out.ResearchData.WebResults = append([]models.Source(nil), r.WebResults...)
		}
	}

	if a := u.Artifacts; a != nil {
		if a.DraftAnswer != nil {
			draft := *a.DraftAnswer
			out.Artifacts.DraftAnswer = &draft
		}
		if a.Verification != nil {
			v := *a.Verification
			out.Artifacts.Verification = &v
		}
		if a.Refined != nil {
			out.Artifacts.Refined = *a.Refined
		}
		if a.Compliance != nil {
			out.Artifacts.Compliance = *a.Compliance
		}
		if a.FinalAnswer != nil {
			out.Artifacts.FinalAnswer = *a.FinalAnswer
		}
		if a.ReportID != nil {
			out.Artifacts.ReportID = *a.ReportID
		}
	}

	if len(u.FinalReport) > 0 {
		merged := make(map[string]string, len(s.FinalReport)+len(u.FinalReport))
		maps.Copy(merged, s.FinalReport)
		maps.Copy(merged, u.FinalReport)
		out.FinalReport = merged
	}
	return out
}

// DraftText renders the draft answer as flat text.
func (s State) DraftText() string {
	if s.Artifacts.DraftAnswer == nil {
		return ""
	}
	return models.FormatReport(*s.Artifacts.DraftAnswer)
}

// Evidence returns the research data in the shape synthesis consumes.
func (s State) Evidence() models.Evidence {
	return models.Evidence{Context: s.ResearchData.Context, WebResults: s.ResearchData.WebResults}
}

func ptr[T any](v T) *T { return &v }
