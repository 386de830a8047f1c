package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/diagnosis"
)

const pubmedTool = "aura_diagnostics"

// Confidence levels assigned to PubMed evidence. Articles without an
// abstract are kept but downgraded instead of being dropped.
const (
	pubmedFullConfidence    = 0.8
	pubmedPartialConfidence = 0.6
)

// PubMed searches the NCBI E-utilities API in two steps: esearch for PMIDs,
// then efetch for titles and abstracts. NCBI requires the tool and email
// parameters and allows 3 requests per second without an API key.
type PubMed struct {
	endpoint   string
	email      string
	apiKey     string
	maxResults int
	client     *HTTPClient
	gate       *rateGate
	log        *log.Logger
}

func NewPubMed(cfg config.PubMedConfig, logger *log.Logger) *PubMed {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &PubMed{
		endpoint:   endpoint,
		email:      cfg.Email,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		client:     NewHTTPClient(cfg.Timeout, 2, 0),
		gate:       newRateGate(cfg.RateLimit),
		log:        logger,
	}
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type efetchResponse struct {
	Articles []struct {
		PMID     string   `xml:"MedlineCitation>PMID"`
		Title    string   `xml:"MedlineCitation>Article>ArticleTitle"`
		Abstract []string `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	} `xml:"PubmedArticle"`
}

// Search implements diagnosis.EvidenceSearcher. The requested result count
// is capped at the source's configured maximum.
func (p *PubMed) Search(ctx context.Context, query string, maxResults int) ([]diagnosis.Evidence, error) {
	if maxResults <= 0 || maxResults > p.maxResults {
		maxResults = p.maxResults
	}
	if err := p.gate.wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {strconv.Itoa(maxResults)},
		"retmode": {"json"},
		"email":   {p.email},
		"tool":    {pubmedTool},
	}
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}

	var search esearchResponse
	if err := p.client.GetJSON(ctx, p.endpoint+"/esearch.fcgi?"+params.Encode(), &search); err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	pmids := search.Result.IDList
	if len(pmids) == 0 {
		return []diagnosis.Evidence{}, nil
	}

	if err := p.gate.wait(ctx); err != nil {
		return nil, err
	}
	fetchParams := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"xml"},
		"email":   {p.email},
		"tool":    {pubmedTool},
	}
	if p.apiKey != "" {
		fetchParams.Set("api_key", p.apiKey)
	}
	raw, err := p.client.GetRaw(ctx, p.endpoint+"/efetch.fcgi?"+fetchParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch: %w", err)
	}

	var fetched efetchResponse
	if err := xml.Unmarshal(raw, &fetched); err != nil {
		return nil, fmt.Errorf("pubmed efetch parse: %w", err)
	}

	evidence := make([]diagnosis.Evidence, 0, len(fetched.Articles))
	for _, art := range fetched.Articles {
		if art.PMID == "" || art.Title == "" {
			continue
		}
		abstract := strings.TrimSpace(strings.Join(art.Abstract, " "))
		confidence := pubmedFullConfidence
		if abstract == "" {
			abstract = "Abstract not available"
			confidence = pubmedPartialConfidence
		}
		evidence = append(evidence, diagnosis.Evidence{
			SourceID:   "PMID:" + art.PMID,
			Snippet:    fmt.Sprintf("Title: %s\nAbstract: %s", art.Title, abstract),
			Confidence: confidence,
		})
	}
	if p.log != nil {
		p.log.Printf("pubmed search %q returned %d articles", query, len(evidence))
	}
	return evidence, nil
}
