package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aura-dx/aura/config"
)

const openAlexBody = `{
  "results": [
    {
      "id": "https://openalex.org/W1",
      "title": "Pediatric exanthems",
      "relevance_score": 12.0,
      "abstract_inverted_index": {
        "A": [0], "detailed": [1], "review": [2], "of": [3], "common": [4],
        "childhood": [5], "viral": [6], "exanthems": [7], "and": [8],
        "their": [9], "distinguishing": [10], "clinical": [11], "features.": [12]
      }
    },
    {
      "id": "https://openalex.org/W2",
      "title": "Short abstract work",
      "relevance_score": 6.0,
      "abstract_inverted_index": {"too": [0], "short": [1]}
    }
  ]
}`

func TestOpenAlexSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search") != "pediatric rash" {
			t.Errorf("search param %q", q.Get("search"))
		}
		if !strings.Contains(q.Get("filter"), "has_abstract:true") {
			t.Errorf("filter param %q", q.Get("filter"))
		}
		if q.Get("mailto") != "dev@example.com" {
			t.Errorf("mailto param %q", q.Get("mailto"))
		}
		w.Write([]byte(openAlexBody))
	}))
	defer srv.Close()

	o := NewOpenAlex(config.OpenAlexConfig{
		Endpoint: srv.URL,
		Email:    "dev@example.com",
		Timeout:  5 * time.Second,
	}, nil)

	evidence, err := o.Search(context.Background(), "pediatric rash", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("short-abstract work must be dropped, got %d results", len(evidence))
	}
	got := evidence[0]
	if got.SourceID != "openalex:W1" {
		t.Fatalf("source id %q", got.SourceID)
	}
	if !strings.Contains(got.Snippet, "A detailed review of common childhood viral exanthems") {
		t.Fatalf("abstract not reconstructed: %q", got.Snippet)
	}
	if got.Confidence != 0.8 {
		t.Fatalf("top hit confidence %v", got.Confidence)
	}
}

func TestOpenAlexSearchCapsAtConfiguredMaxResults(t *testing.T) {
	var perPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perPage = r.URL.Query().Get("per-page")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAlex(config.OpenAlexConfig{Endpoint: srv.URL, MaxResults: 3}, nil)
	if _, err := o.Search(context.Background(), "fever", 10); err != nil {
		t.Fatalf("search: %v", err)
	}
	if perPage != "3" {
		t.Fatalf("expected per-page capped at 3, got %q", perPage)
	}
}

func TestReconstructAbstract(t *testing.T) {
	index := map[string][]int{
		"fever": {1},
		"the":   {0, 2},
		"rash":  {3},
	}
	if got := reconstructAbstract(index); got != "the fever the rash" {
		t.Fatalf("got %q", got)
	}
	if reconstructAbstract(nil) != "" {
		t.Fatalf("nil index must yield empty string")
	}
}
