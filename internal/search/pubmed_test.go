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

const efetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>101</PMID>
      <Article>
        <ArticleTitle>Scarlet fever in children</ArticleTitle>
        <Abstract><AbstractText>A review of group A streptococcal exanthems.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>102</PMID>
      <Article>
        <ArticleTitle>Untitled case note</ArticleTitle>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func newPubMedTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, "/esearch.fcgi"):
			if r.URL.Query().Get("tool") != pubmedTool {
				t.Errorf("missing tool param")
			}
			if r.URL.Query().Get("email") == "" {
				t.Errorf("missing email param")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"esearchresult":{"idlist":["101","102"]}}`))
		case strings.HasSuffix(r.URL.Path, "/efetch.fcgi"):
			if got := r.URL.Query().Get("id"); got != "101,102" {
				t.Errorf("efetch ids %q", got)
			}
			w.Write([]byte(efetchXML))
		default:
			http.NotFound(w, r)
		}
	}))
	return srv, &paths
}

func TestPubMedSearch(t *testing.T) {
	srv, paths := newPubMedTestServer(t)
	defer srv.Close()

	p := NewPubMed(config.PubMedConfig{
		Endpoint:  srv.URL,
		Email:     "dev@example.com",
		RateLimit: 1000,
		Timeout:   5 * time.Second,
	}, nil)

	evidence, err := p.Search(context.Background(), "scarlet fever", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected 2 results, got %d", len(evidence))
	}
	if evidence[0].SourceID != "PMID:101" || evidence[0].Confidence != 0.8 {
		t.Fatalf("full article mapped wrong: %+v", evidence[0])
	}
	if !strings.Contains(evidence[0].Snippet, "group A streptococcal") {
		t.Fatalf("abstract missing from snippet: %q", evidence[0].Snippet)
	}
	if evidence[1].Confidence != 0.6 || !strings.Contains(evidence[1].Snippet, "Abstract not available") {
		t.Fatalf("missing-abstract article must be downgraded: %+v", evidence[1])
	}
	if len(*paths) != 2 {
		t.Fatalf("expected esearch then efetch, got %v", *paths)
	}
}

func TestPubMedSearchNoHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	p := NewPubMed(config.PubMedConfig{Endpoint: srv.URL, RateLimit: 1000}, nil)
	evidence, err := p.Search(context.Background(), "nothing", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if evidence == nil || len(evidence) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", evidence)
	}
}

func TestPubMedSearchCapsAtConfiguredMaxResults(t *testing.T) {
	var retmax string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retmax = r.URL.Query().Get("retmax")
		w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	p := NewPubMed(config.PubMedConfig{Endpoint: srv.URL, RateLimit: 1000, MaxResults: 2}, nil)
	if _, err := p.Search(context.Background(), "fever", 10); err != nil {
		t.Fatalf("search: %v", err)
	}
	if retmax != "2" {
		t.Fatalf("expected retmax capped at 2, got %q", retmax)
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 2, time.Millisecond)
	var out map[string]bool
	if err := c.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
