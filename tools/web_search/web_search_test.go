package web_search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/tools/web_search/brave"
	"github.com/mohammad-safakhou/researchd/tools/web_search/serper"
)

func TestBraveSearchAssignsIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("missing subscription token")
		}
		if r.URL.Query().Get("q") != "head of state" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Wire report","url":"https://example.com/a","description":"X's head of state is Y."},
			{"title":"Second","url":"https://example.com/b","description":"More."}
		]}}`))
	}))
	defer srv.Close()

	s := NewSearcher(brave.Search{ApiKey: "brave-key", Endpoint: srv.URL})
	out, err := s.Search(context.Background(), "head of state", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].ID != "1" || out[1].ID != "2" {
		t.Fatalf("expected sequential ids, got %q %q", out[0].ID, out[1].ID)
	}
	if out[0].Quote != "X's head of state is Y." || out[0].Title != "Wire report" {
		t.Fatalf("unexpected first result %+v", out[0])
	}
}

func TestSerperSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-API-KEY") != "serper-key" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"A","link":"https://a","snippet":"a"},
			{"title":"B","link":"https://b","snippet":"b"},
			{"title":"C","link":"https://c","snippet":"c"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearcher(serper.Search{ApiKey: "serper-key", Endpoint: srv.URL})
	out, err := s.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 2 || out[1].URL != "https://b" {
		t.Fatalf("unexpected results %+v", out)
	}
}

func TestSearchPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	s := NewSearcher(brave.Search{ApiKey: "bad", Endpoint: srv.URL})
	if _, err := s.Search(context.Background(), "q", 3); err == nil {
		t.Fatalf("expected error for 401")
	}
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(config.WebSearchConfig{})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if _, err := s.Search(context.Background(), "q", 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := FromConfig(config.WebSearchConfig{Provider: "bing"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := FromConfig(config.WebSearchConfig{Provider: "Brave", BraveAPIKey: "k"}); err != nil {
		t.Fatalf("brave: %v", err)
	}
}

func TestSearchDropsDuplicatePages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"A","link":"https://Example.com/a?utm_source=x","snippet":"a"},
			{"title":"A again","link":"https://example.com:443/a#top","snippet":"a"},
			{"title":"B","link":"https://example.com/b","snippet":"b"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearcher(serper.Search{ApiKey: "k", Endpoint: srv.URL})
	out, err := s.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 2 || out[0].Title != "A" || out[1].Title != "B" || out[1].ID != "2" {
		t.Fatalf("expected deduplicated dense results, got %+v", out)
	}
}

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"https://Example.com/a/../b?utm_campaign=z&k=1#frag": "https://example.com/b?k=1",
		"http://example.com:80/":                             "http://example.com",
		"https://example.com:8443/x/":                        "https://example.com:8443/x",
		"not a url":                                          "not a url",
	}
	for in, want := range cases {
		if got := canonicalURL(in); got != want {
			t.Errorf("canonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
}
