package models

import (
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job is not found
var ErrJobNotFound = errors.New("job not found")

// ErrReportNotFound is returned when no report row exists for a thread
var ErrReportNotFound = errors.New("report not found")

// Source is one ordered web search result. Error is set on the single
// marker entry produced when the search itself failed.
type Source struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Quote string `json:"quote,omitempty"`
	Error string `json:"error,omitempty"`
}

// Evidence is the research payload handed to synthesis.
type Evidence struct {
	Context    string   `json:"context"`
	WebResults []Source `json:"web_results"`
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Table struct {
	Title   string     `json:"title"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type Citation struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	URL    string `json:"url"`
	Quote  string `json:"quote"`
}

// Report is the structured draft produced by synthesis.
type Report struct {
	Summary   string     `json:"summary"`
	Sections  []Section  `json:"sections"`
	Tables    []Table    `json:"tables,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Revision carries the feedback for a corrected draft.
type Revision struct {
	PriorDraft string   `json:"prior_draft"`
	Issues     []string `json:"issues"`
}

// EvidenceSource is the normalized source shape the verifier checks against.
type EvidenceSource struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// Verification is the citation verifier's verdict on a draft.
type Verification struct {
	Score           float64  `json:"score"`
	IsValid         bool     `json:"is_valid"`
	SupportedClaims int      `json:"supported_claims"`
	TotalClaims     int      `json:"total_claims"`
	Issues          []string `json:"issues"`
	Summary         string   `json:"summary"`
}

type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobRunning            JobStatus = "running"
	JobWaitingForApproval JobStatus = "waiting_for_approval"
	JobCompleted          JobStatus = "completed"
	JobFailed             JobStatus = "failed"
)

type Job struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Status    JobStatus      `json:"status"`
	Progress  float64        `json:"progress"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ReportStatus string

const (
	ReportGenerating ReportStatus = "generating"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// ReportRecord is the persisted report row for a thread.
type ReportRecord struct {
	ID        string            `json:"id"`
	JobID     string            `json:"job_id,omitempty"`
	ThreadID  string            `json:"thread_id"`
	Status    ReportStatus      `json:"status"`
	FileURL   string            `json:"file_url,omitempty"`
	Paths     map[string]string `json:"report_paths,omitempty"`
	Content   map[string]any    `json:"content,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Document is one indexed evidence document.
type Document struct {
	ID    string `json:"id"`
	JobID string `json:"job_id,omitempty"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Text  string `json:"text"`
}

// ProgressEvent is the wire shape of a job progress update.
type ProgressEvent struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Progress  float64        `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ChatMessage is one role-tagged entry sent to the completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
