package web_search

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/researchd/config"
	shared "github.com/mohammad-safakhou/researchd/models"
	"github.com/mohammad-safakhou/researchd/tools/web_search/brave"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
	"github.com/mohammad-safakhou/researchd/tools/web_search/serper"
)

// Discoverer is a search backend.
type Discoverer interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNotConfigured       = errors.New("web search provider not configured")
)

// NewDiscoverer returns the backend for provider.
func NewDiscoverer(provider Provider, apiKey string, client *http.Client) (Discoverer, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Searcher adapts a backend to ordered sources with stable 1-based ids.
type Searcher struct {
	backend Discoverer
}

func NewSearcher(backend Discoverer) *Searcher {
	return &Searcher{backend: backend}
}

// FromConfig builds the configured searcher. An empty provider yields a
// searcher that always fails, which research records as an error source.
func FromConfig(cfg config.WebSearchConfig) (*Searcher, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch Provider(strings.ToLower(cfg.Provider)) {
	case "":
		return NewSearcher(unconfigured{}), nil
	case BraveProvider:
		d, _ := NewDiscoverer(BraveProvider, cfg.BraveAPIKey, client)
		return NewSearcher(d), nil
	case SerperProvider:
		d, _ := NewDiscoverer(SerperProvider, cfg.SerperAPIKey, client)
		return NewSearcher(d), nil
	}
	return nil, ErrUnsupportedProvider
}

func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]shared.Source, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	results, err := s.backend.Discover(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	// Results pointing at the same page keep the first rank; ids stay dense.
	out := make([]shared.Source, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.URL != "" {
			key := canonicalURL(r.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, shared.Source{
			ID:    strconv.Itoa(len(out) + 1),
			Title: r.Title,
			URL:   r.URL,
			Quote: r.Snippet,
		})
	}
	return out, nil
}

type unconfigured struct{}

func (unconfigured) Discover(context.Context, string, int) ([]models.Result, error) {
	return nil, ErrNotConfigured
}
