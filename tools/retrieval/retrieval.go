// Package retrieval serves evidence text from a bleve full-text index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/models"
)

const (
	defaultTopK    = 5
	maxPassageSize = 2000
)

// Index is a job-aware document index. Documents indexed with a job id
// are only returned for that job; documents without one are shared.
type Index struct {
	index  bleve.Index
	topK   int
	logger *zap.Logger

	mu sync.RWMutex
}

type Option func(*Index)

func WithTopK(k int) Option {
	return func(i *Index) {
		if k > 0 {
			i.topK = k
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewMemIndex creates an index held in memory.
func NewMemIndex(opts ...Option) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return newIndex(idx, opts), nil
}

// Open opens the on-disk index at path, creating it when absent.
func Open(path string, opts ...Option) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return newIndex(idx, opts), nil
}

func newIndex(idx bleve.Index, opts []Option) *Index {
	i := &Index{index: idx, topK: defaultTopK, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Index) Close() error { return i.index.Close() }

// Index adds or replaces a document.
func (i *Index) Index(ctx context.Context, doc models.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("document %s has no text", doc.ID)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.index.Index(doc.ID, map[string]interface{}{
		"title":  doc.Title,
		"text":   doc.Text,
		"url":    doc.URL,
		"job_id": doc.JobID,
	}); err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	return nil
}

// Retrieve returns the best matching passages concatenated. No match is
// an empty string.
func (i *Index) Retrieve(ctx context.Context, query, jobID string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), i.topK*3, 0, false)
	req.Fields = []string{"title", "text", "url", "job_id"}

	i.mu.RLock()
	defer i.mu.RUnlock()
	res, err := i.index.Search(req)
	if err != nil {
		return "", fmt.Errorf("search index: %w", err)
	}
	var parts []string
	for _, hit := range res.Hits {
		doc := models.Document{
			ID:    hit.ID,
			Title: field(hit.Fields, "title"),
			Text:  field(hit.Fields, "text"),
			URL:   field(hit.Fields, "url"),
			JobID: field(hit.Fields, "job_id"),
		}
		if doc.JobID != "" && doc.JobID != jobID {
			continue
		}
		parts = append(parts, passage(doc))
		if len(parts) >= i.topK {
			break
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func field(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// Indexer accepts documents for indexing.
type Indexer interface {
	Index(ctx context.Context, doc models.Document) error
}

// IndexDir hands every .txt and .md file under dir to into as a shared
// document keyed by its relative path.
func IndexDir(ctx context.Context, dir string, into Indexer) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		doc := models.Document{ID: filepath.ToSlash(rel), Title: strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())), Text: string(body)}
		if strings.TrimSpace(doc.Text) == "" {
			return nil
		}
		if err := into.Index(ctx, doc); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("index corpus %s: %w", dir, err)
	}
	return count, nil
}

func passage(doc models.Document) string {
	text := strings.TrimSpace(doc.Text)
	if r := []rune(text); len(r) > maxPassageSize {
		text = string(r[:maxPassageSize]) + "…"
	}
	if doc.Title == "" {
		return text
	}
	return doc.Title + "\n" + text
}
