package search

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/diagnosis"
)

// minAbstractLen drops works whose reconstructed abstract is too short to be
// useful evidence.
const minAbstractLen = 50

// OpenAlex searches the OpenAlex works API for the broad-literature branch.
// Results are filtered to English works with abstracts; abstracts arrive as
// inverted indexes and are reconstructed locally.
type OpenAlex struct {
	endpoint   string
	email      string
	maxResults int
	client     *HTTPClient
	gate       *rateGate
	log        *log.Logger
}

func NewOpenAlex(cfg config.OpenAlexConfig, logger *log.Logger) *OpenAlex {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.openalex.org/works"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &OpenAlex{
		endpoint:   endpoint,
		email:      cfg.Email,
		maxResults: maxResults,
		client:     NewHTTPClient(cfg.Timeout, 2, 0),
		gate:       newRateGate(5),
		log:        logger,
	}
}

type openAlexResponse struct {
	Results []struct {
		ID             string           `json:"id"`
		Title          string           `json:"title"`
		RelevanceScore float64          `json:"relevance_score"`
		InvertedIndex  map[string][]int `json:"abstract_inverted_index"`
	} `json:"results"`
}

// Search implements diagnosis.EvidenceSearcher. The requested result count
// is capped at the source's configured maximum. Confidence is derived from
// the relevance score, scaled against the best hit of the page into
// [0.5, 0.8]; works without scores fall back to 0.7.
func (o *OpenAlex) Search(ctx context.Context, query string, maxResults int) ([]diagnosis.Evidence, error) {
	if maxResults <= 0 || maxResults > o.maxResults {
		maxResults = o.maxResults
	}
	if err := o.gate.wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"search":   {query},
		"filter":   {"has_abstract:true,language:en"},
		"per-page": {strconv.Itoa(maxResults)},
	}
	if o.email != "" {
		params.Set("mailto", o.email)
	}

	var resp openAlexResponse
	if err := o.client.GetJSON(ctx, o.endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("openalex search: %w", err)
	}

	var maxScore float64
	for _, w := range resp.Results {
		if w.RelevanceScore > maxScore {
			maxScore = w.RelevanceScore
		}
	}

	evidence := make([]diagnosis.Evidence, 0, len(resp.Results))
	for _, w := range resp.Results {
		abstract := reconstructAbstract(w.InvertedIndex)
		if len(abstract) < minAbstractLen {
			continue
		}
		confidence := 0.7
		if maxScore > 0 {
			confidence = 0.5 + 0.3*(w.RelevanceScore/maxScore)
		}
		evidence = append(evidence, diagnosis.Evidence{
			SourceID:   "openalex:" + strings.TrimPrefix(w.ID, "https://openalex.org/"),
			Snippet:    fmt.Sprintf("Title: %s\nAbstract: %s", w.Title, abstract),
			Confidence: confidence,
		})
	}
	if o.log != nil {
		o.log.Printf("openalex search %q returned %d works", query, len(evidence))
	}
	return evidence, nil
}

// reconstructAbstract flips OpenAlex's {word: [positions]} inverted index
// back into plain text.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 && p <= maxPos {
				words[p] = word
			}
		}
	}
	var parts []string
	for _, w := range words {
		if w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, " ")
}
