package worker

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researchd/internal/capability"
	"github.com/mohammad-safakhou/researchd/models"
)

// Retriever returns evidence text from the retrieval store. An empty
// result is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query, jobID string) (string, error)
}

// Indexer adds documents to the retrieval store.
type Indexer interface {
	Index(ctx context.Context, doc models.Document) error
}

// WebSearcher returns ordered web results for a query.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.Source, error)
}

// Synthesizer drafts a structured report. A non-nil revision asks for a
// corrected version of a prior draft.
type Synthesizer interface {
	Generate(ctx context.Context, query string, evidence models.Evidence, revision *models.Revision) (models.Report, error)
}

// CitationVerifier scores how well text is supported by sources.
type CitationVerifier interface {
	Verify(ctx context.Context, text string, sources []models.EvidenceSource) (models.Verification, error)
}

// Redactor removes personal data from text.
type Redactor interface {
	Redact(ctx context.Context, text string) (string, error)
}

// Exporter writes the final text and returns format -> location.
type Exporter interface {
	Export(ctx context.Context, name, content string) (map[string]string, error)
}

type RetrieveArgs struct {
	Query string `json:"query"`
	JobID string `json:"job_id,omitempty"`
}

type IndexArgs struct {
	Document models.Document `json:"document"`
}

type SearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type GenerateArgs struct {
	Query    string           `json:"query"`
	Evidence models.Evidence  `json:"evidence"`
	Revision *models.Revision `json:"revision,omitempty"`
}

type VerifyArgs struct {
	Text    string                  `json:"text"`
	Sources []models.EvidenceSource `json:"sources"`
}

type RedactArgs struct {
	Text string `json:"text"`
}

type ExportArgs struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Collaborators are the external adapters behind each worker.
type Collaborators struct {
	Retriever   Retriever
	WebSearcher WebSearcher
	Synthesizer Synthesizer
	Verifier    CitationVerifier
	Redactor    Redactor
	Exporter    Exporter
}

type binding struct {
	worker, op string
	h          Handler
}

// Workers is the typed facade the workflow calls.
type Workers struct {
	d *Dispatcher
}

// NewWorkers binds every collaborator into the dispatcher's table.
func NewWorkers(d *Dispatcher, c Collaborators) (*Workers, error) {
	if c.Retriever == nil || c.WebSearcher == nil || c.Synthesizer == nil || c.Verifier == nil || c.Redactor == nil || c.Exporter == nil {
		return nil, fmt.Errorf("all worker collaborators are required")
	}
	bindings := []binding{
		{capability.Retrieval, capability.OpRetrieve, Typed(func(ctx context.Context, a RetrieveArgs) (string, error) {
			return c.Retriever.Retrieve(ctx, a.Query, a.JobID)
		})},
		{capability.WebSearch, capability.OpSearch, Typed(func(ctx context.Context, a SearchArgs) ([]models.Source, error) {
			return c.WebSearcher.Search(ctx, a.Query, a.MaxResults)
		})},
		{capability.Synthesis, capability.OpGenerate, Typed(func(ctx context.Context, a GenerateArgs) (models.Report, error) {
			return c.Synthesizer.Generate(ctx, a.Query, a.Evidence, a.Revision)
		})},
		{capability.Citation, capability.OpVerify, Typed(func(ctx context.Context, a VerifyArgs) (models.Verification, error) {
			return c.Verifier.Verify(ctx, a.Text, a.Sources)
		})},
		{capability.Compliance, capability.OpRedact, Typed(func(ctx context.Context, a RedactArgs) (string, error) {
			return c.Redactor.Redact(ctx, a.Text)
		})},
		{capability.Export, capability.OpExport, Typed(func(ctx context.Context, a ExportArgs) (map[string]string, error) {
			return c.Exporter.Export(ctx, a.Name, a.Content)
		})},
	}
	if idx, ok := c.Retriever.(Indexer); ok {
		bindings = append(bindings, binding{capability.Retrieval, capability.OpIndex, Typed(func(ctx context.Context, a IndexArgs) (struct{}, error) {
			return struct{}{}, idx.Index(ctx, a.Document)
		})})
	}
	for _, b := range bindings {
		if err := d.Bind(b.worker, b.op, b.h); err != nil {
			return nil, err
		}
	}
	return &Workers{d: d}, nil
}

func (w *Workers) Retrieve(ctx context.Context, query, jobID string) (string, error) {
	return Call[string](ctx, w.d, capability.Retrieval, capability.OpRetrieve, RetrieveArgs{Query: query, JobID: jobID})
}

// Index is only available when the retriever supports indexing.
func (w *Workers) Index(ctx context.Context, doc models.Document) error {
	_, err := w.d.Invoke(ctx, capability.Retrieval, capability.OpIndex, IndexArgs{Document: doc})
	return err
}

func (w *Workers) Search(ctx context.Context, query string, maxResults int) ([]models.Source, error) {
	return Call[[]models.Source](ctx, w.d, capability.WebSearch, capability.OpSearch, SearchArgs{Query: query, MaxResults: maxResults})
}

func (w *Workers) Generate(ctx context.Context, query string, evidence models.Evidence, revision *models.Revision) (models.Report, error) {
	return Call[models.Report](ctx, w.d, capability.Synthesis, capability.OpGenerate, GenerateArgs{Query: query, Evidence: evidence, Revision: revision})
}

func (w *Workers) Verify(ctx context.Context, text string, sources []models.EvidenceSource) (models.Verification, error) {
	return Call[models.Verification](ctx, w.d, capability.Citation, capability.OpVerify, VerifyArgs{Text: text, Sources: sources})
}

func (w *Workers) Redact(ctx context.Context, text string) (string, error) {
	return Call[string](ctx, w.d, capability.Compliance, capability.OpRedact, RedactArgs{Text: text})
}

func (w *Workers) Export(ctx context.Context, name, content string) (map[string]string, error) {
	return Call[map[string]string](ctx, w.d, capability.Export, capability.OpExport, ExportArgs{Name: name, Content: content})
}
